package memory

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Seed is the YAML fixture format for populating an engine at startup:
//
//	instances:
//	  - id: leave-1
//	    key: leave-request
//	    tasks:
//	      - id: review-1
//	        name: Review
//	        candidate_groups: ["hr,finance"]
//	        variables: {days: 3}
//
// Ids are optional and generated when blank.
type Seed struct {
	Instances []SeedInstance `yaml:"instances"`
}

type SeedInstance struct {
	ID    string     `yaml:"id"`
	Key   string     `yaml:"key"`
	Tasks []SeedTask `yaml:"tasks"`
}

type SeedTask struct {
	ID              string         `yaml:"id"`
	Name            string         `yaml:"name"`
	Assignee        string         `yaml:"assignee"`
	CandidateUsers  []string       `yaml:"candidate_users"`
	CandidateGroups []string       `yaml:"candidate_groups"`
	Variables       map[string]any `yaml:"variables"`
}

// LoadSeedFile reads a Seed from a YAML file. Unknown keys are rejected.
func LoadSeedFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	var s Seed
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode seed file %s: %w", path, err)
	}
	return &s, nil
}

// Load adds every instance and task in s. It fails without changing the
// engine if an id is reused.
func (e *Engine) Load(s *Seed) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool)
	fill := func(id *string) error {
		if *id == "" {
			*id = uuid.NewString()
		}
		if seen[*id] {
			return fmt.Errorf("seed id %q used twice", *id)
		}
		if _, ok := e.instances[*id]; ok {
			return fmt.Errorf("seed id %q already exists", *id)
		}
		if _, ok := e.tasks[*id]; ok {
			return fmt.Errorf("seed id %q already exists", *id)
		}
		seen[*id] = true
		return nil
	}

	instances := make([]SeedInstance, len(s.Instances))
	for i, inst := range s.Instances {
		if err := fill(&inst.ID); err != nil {
			return err
		}
		tasks := make([]SeedTask, len(inst.Tasks))
		for j, task := range inst.Tasks {
			if err := fill(&task.ID); err != nil {
				return err
			}
			tasks[j] = task
		}
		inst.Tasks = tasks
		instances[i] = inst
	}

	var errs []error
	for _, inst := range instances {
		e.startInstanceLocked(inst.ID, inst.Key)
		for _, task := range inst.Tasks {
			errs = append(errs, e.createTaskLocked(task.ID, inst.ID, NewTask{
				Name:            task.Name,
				Assignee:        task.Assignee,
				CandidateUsers:  task.CandidateUsers,
				CandidateGroups: task.CandidateGroups,
				Variables:       task.Variables,
			}))
		}
	}
	return errors.Join(errs...)
}
