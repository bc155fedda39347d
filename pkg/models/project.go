package models

import "strings"

// Department groups employees of the virtual company.
type Department string

const (
	DepartmentPlanning    Department = "planning"
	DepartmentDesign      Department = "design"
	DepartmentDevelopment Department = "development"
	DepartmentQA          Department = "qa"
	DepartmentMarketing   Department = "marketing"
)

// ParseDepartment accepts common spellings, including the "... team" suffix.
// Unknown values are returned lower-cased as-is.
func ParseDepartment(s string) Department {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.TrimSuffix(key, " team")
	key = strings.TrimSuffix(key, "팀")
	switch key {
	case "planning", "plan", "기획":
		return DepartmentPlanning
	case "design", "디자인":
		return DepartmentDesign
	case "development", "dev", "engineering", "개발":
		return DepartmentDevelopment
	case "qa", "quality", "testing":
		return DepartmentQA
	case "marketing", "마케팅":
		return DepartmentMarketing
	}
	return Department(key)
}

// DepartmentFor returns the department implied by a task type.
func DepartmentFor(t TaskType) Department {
	switch t {
	case TaskTypeCodeGeneration, TaskTypeCodeAnalysis, TaskTypeRefactoring:
		return DepartmentDevelopment
	case TaskTypeTesting:
		return DepartmentQA
	case TaskTypeDocumentation:
		return DepartmentPlanning
	case TaskTypeDesign:
		return DepartmentDesign
	default:
		return DepartmentDevelopment
	}
}

// EmployeeStatus is the availability of an employee.
type EmployeeStatus string

const (
	EmployeeIdle    EmployeeStatus = "idle"
	EmployeeWorking EmployeeStatus = "working"
)

// Employee is a member of the roster. Assignment is advisory only.
type Employee struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	AIType     string         `json:"ai_type,omitempty" yaml:"ai_type"`
	Department Department     `json:"department" yaml:"department"`
	Status     EmployeeStatus `json:"status,omitempty" yaml:"status"`
}

// IsIdle reports whether the employee is free. An empty status counts as idle.
func (e Employee) IsIdle() bool {
	return e.Status == "" || e.Status == EmployeeIdle
}

// ProjectInfo is opaque project context passed through to capabilities.
type ProjectInfo struct {
	ID               string `json:"id,omitempty" yaml:"id"`
	Name             string `json:"name,omitempty" yaml:"name"`
	Language         string `json:"language,omitempty" yaml:"language"`
	Framework        string `json:"framework,omitempty" yaml:"framework"`
	WorkingDirectory string `json:"working_directory,omitempty" yaml:"working_directory"`
	Description      string `json:"description,omitempty" yaml:"description"`
}
