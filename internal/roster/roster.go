// Package roster loads the virtual company's employees and suggests assignees.
package roster

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/crew/pkg/models"
)

// ErrProjectNotFound is returned when a company file has no matching project.
var ErrProjectNotFound = errors.New("roster: project not found")

// Roster is an ordered list of employees. Order is significant: assignment
// picks the first matching employee.
type Roster struct {
	Employees []models.Employee
}

// rosterFile is the YAML roster layout.
//
//	departments:
//	  - type: development
//	    employees:
//	      - id: e1
//	        name: Mina
//	        ai_type: Claude
//	        status: idle
//	employees:
//	  - id: e2
//	    name: Jun
//	    department: qa
type rosterFile struct {
	Departments []struct {
		Type      string         `yaml:"type"`
		Name      string         `yaml:"name"`
		Employees []employeeYAML `yaml:"employees"`
	} `yaml:"departments"`
	Employees []employeeYAML `yaml:"employees"`
}

type employeeYAML struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	AIType     string `yaml:"ai_type"`
	Department string `yaml:"department"`
	Status     string `yaml:"status"`
}

// companyFile is the desktop application's company.json layout.
type companyFile struct {
	Projects []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Departments []struct {
			Type      string `json:"type"`
			Name      string `json:"name"`
			Employees []struct {
				ID     string `json:"id"`
				Name   string `json:"name"`
				AIType string `json:"aiType"`
				Status string `json:"status"`
			} `json:"employees"`
		} `json:"departments"`
	} `json:"projects"`
}

// Load reads a roster file. ".json" files are read as company.json and
// merge the employees of every project; anything else is read as YAML.
func Load(path string) (*Roster, error) {
	return LoadProject(path, "")
}

// LoadProject is Load restricted to one project of a company.json file,
// matched by ID or name. An empty project selects every project.
func LoadProject(path, project string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return parseCompany(data, project)
	}
	if project != "" {
		return nil, fmt.Errorf("roster %s: project filter needs a company.json file", path)
	}
	return parseYAML(data)
}

func parseYAML(data []byte) (*Roster, error) {
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}

	r := &Roster{}
	for _, dept := range f.Departments {
		deptName := dept.Type
		if deptName == "" {
			deptName = dept.Name
		}
		for _, e := range dept.Employees {
			if e.Department == "" {
				e.Department = deptName
			}
			r.add(e.ID, e.Name, e.AIType, e.Department, e.Status)
		}
	}
	for _, e := range f.Employees {
		r.add(e.ID, e.Name, e.AIType, e.Department, e.Status)
	}
	return r, nil
}

func parseCompany(data []byte, project string) (*Roster, error) {
	var f companyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse company file: %w", err)
	}

	r := &Roster{}
	matched := false
	for _, p := range f.Projects {
		if project != "" && p.ID != project && p.Name != project {
			continue
		}
		matched = true
		for _, dept := range p.Departments {
			deptName := dept.Type
			if deptName == "" {
				deptName = dept.Name
			}
			for _, e := range dept.Employees {
				r.add(e.ID, e.Name, e.AIType, deptName, e.Status)
			}
		}
	}
	if project != "" && !matched {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, project)
	}
	return r, nil
}

// add normalizes and appends one employee. Employees without a name are skipped.
func (r *Roster) add(id, name, aiType, department, status string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if id == "" {
		id = name
	}
	r.Employees = append(r.Employees, models.Employee{
		ID:         id,
		Name:       name,
		AIType:     aiType,
		Department: models.ParseDepartment(department),
		Status:     parseStatus(status),
	})
}

// parseStatus maps free-form availability to idle or working.
// The desktop application writes Korean labels such as "휴식 중" (resting).
func parseStatus(s string) models.EmployeeStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "idle", "available", "resting", "휴식 중", "휴식중", "대기 중", "대기중":
		return models.EmployeeIdle
	default:
		return models.EmployeeWorking
	}
}

// ByDepartment returns the number of employees per department.
func (r *Roster) ByDepartment() map[models.Department]int {
	counts := make(map[models.Department]int)
	for _, e := range r.Employees {
		counts[e.Department]++
	}
	return counts
}
