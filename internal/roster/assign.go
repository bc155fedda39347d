package roster

import "github.com/ShayCichocki/crew/pkg/models"

// Assign suggests an employee for a task type. It prefers an idle employee of
// the department implied by the type, then any employee of that department,
// then any employee at all. The first match in roster order wins, so the
// result is deterministic. ok is false only for an empty roster.
//
// Assignment is advisory and does not change the employee's status.
func Assign(t models.TaskType, employees []models.Employee) (models.Employee, bool) {
	dept := models.DepartmentFor(t)

	for _, e := range employees {
		if e.Department == dept && e.IsIdle() {
			return e, true
		}
	}
	for _, e := range employees {
		if e.Department == dept {
			return e, true
		}
	}
	if len(employees) > 0 {
		return employees[0], true
	}
	return models.Employee{}, false
}
