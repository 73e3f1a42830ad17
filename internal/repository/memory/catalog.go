package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
)

type enrollKey struct {
	userID  int
	classID int
}

// Catalog is an in-memory exam catalog and class roster.
type Catalog struct {
	mu          sync.RWMutex
	instances   map[uuid.UUID]model.ExamInstance
	templates   map[uuid.UUID]model.ExamTemplate
	questions   map[uuid.UUID][]model.Question
	classes     map[int]model.Class
	enrollments map[enrollKey]string
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		instances:   make(map[uuid.UUID]model.ExamInstance),
		templates:   make(map[uuid.UUID]model.ExamTemplate),
		questions:   make(map[uuid.UUID][]model.Question),
		classes:     make(map[int]model.Class),
		enrollments: make(map[enrollKey]string),
	}
}

var (
	_ service.ExamCatalog       = (*Catalog)(nil)
	_ service.EnrollmentChecker = (*Catalog)(nil)
)

// AddTemplate registers a template.
func (c *Catalog) AddTemplate(t model.ExamTemplate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[t.ID] = t
}

// AddInstance registers an instance. Its template must already exist.
func (c *Catalog) AddInstance(inst model.ExamInstance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inst.Template = nil
	c.instances[inst.ID] = inst
}

// SetQuestions replaces a template's questions.
func (c *Catalog) SetQuestions(templateID uuid.UUID, qs ...model.Question) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.questions[templateID] = slices.Clone(qs)
}

// AddClass registers a class.
func (c *Catalog) AddClass(class model.Class) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classes[class.ID] = class
}

// Enroll records a roster entry with the given status.
func (c *Catalog) Enroll(userID, classID int, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enrollments[enrollKey{userID, classID}] = status
}

func (c *Catalog) GetInstance(_ context.Context, id uuid.UUID) (*model.ExamInstance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	inst, ok := c.instances[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	tmpl, ok := c.templates[inst.TemplateID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	inst.Template = &tmpl
	return &inst, nil
}

func (c *Catalog) ListQuestions(_ context.Context, templateID uuid.UUID) ([]model.Question, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	src := c.questions[templateID]
	out := make([]model.Question, len(src))
	for i, q := range src {
		q.Choices = slices.Clone(q.Choices)
		q.CorrectChoiceIDs = slices.Clone(q.CorrectChoiceIDs)
		out[i] = q
	}
	return out, nil
}

func (c *Catalog) GetClass(_ context.Context, classID int) (*model.Class, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	class, ok := c.classes[classID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &class, nil
}

func (c *Catalog) IsApprovedEnrolled(_ context.Context, userID, classID int) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.enrollments[enrollKey{userID, classID}] == model.EnrollmentApproved, nil
}
