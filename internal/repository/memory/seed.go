package memory

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// seedFile is the TOML layout accepted by LoadSeed.
type seedFile struct {
	Classes   []seedClass    `toml:"classes"`
	Templates []seedTemplate `toml:"templates"`
	Instances []seedInstance `toml:"instances"`
}

type seedClass struct {
	ID        int    `toml:"id"`
	Name      string `toml:"name"`
	TeacherID int    `toml:"teacher_id"`
	Students  []int  `toml:"students"`
	Pending   []int  `toml:"pending"`
}

type seedTemplate struct {
	ID              string         `toml:"id"`
	ClassID         int            `toml:"class_id"`
	OwnerID         int            `toml:"owner_id"`
	Title           string         `toml:"title"`
	DurationSeconds int            `toml:"duration_seconds"`
	PassingScore    float64        `toml:"passing_score"`
	Questions       []seedQuestion `toml:"questions"`
}

type seedQuestion struct {
	ID       string       `toml:"id"`
	Position int          `toml:"position"`
	Prompt   string       `toml:"prompt"`
	Kind     string       `toml:"kind"`
	Points   float64      `toml:"points"`
	Correct  []string     `toml:"correct"`
	Choices  []seedChoice `toml:"choices"`
}

type seedChoice struct {
	ID    string `toml:"id"`
	Label string `toml:"label"`
}

type seedInstance struct {
	ID          string    `toml:"id"`
	TemplateID  string    `toml:"template_id"`
	StartsAt    time.Time `toml:"starts_at"`
	EndsAt      time.Time `toml:"ends_at"`
	Published   bool      `toml:"published"`
	ShowAnswers bool      `toml:"show_answers"`
}

// LoadSeed reads a TOML fixture into the catalog.
func LoadSeed(path string, c *Catalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(raw, c)
}

// ParseSeed decodes TOML fixture data into the catalog.
func ParseSeed(raw []byte, c *Catalog) error {
	var f seedFile
	if err := toml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}

	for _, sc := range f.Classes {
		c.AddClass(model.Class{ID: sc.ID, Name: sc.Name, TeacherID: sc.TeacherID})
		for _, id := range sc.Students {
			c.Enroll(id, sc.ID, model.EnrollmentApproved)
		}
		for _, id := range sc.Pending {
			c.Enroll(id, sc.ID, model.EnrollmentPending)
		}
	}

	for _, st := range f.Templates {
		tid, err := uuid.Parse(st.ID)
		if err != nil {
			return fmt.Errorf("template %q: %w", st.ID, err)
		}
		c.AddTemplate(model.ExamTemplate{
			ID:              tid,
			ClassID:         st.ClassID,
			OwnerID:         st.OwnerID,
			Title:           st.Title,
			DurationSeconds: st.DurationSeconds,
			PassingScore:    st.PassingScore,
		})

		qs := make([]model.Question, 0, len(st.Questions))
		for _, sq := range st.Questions {
			q, err := sq.toModel(tid)
			if err != nil {
				return fmt.Errorf("template %s: %w", tid, err)
			}
			qs = append(qs, q)
		}
		c.SetQuestions(tid, qs...)
	}

	for _, si := range f.Instances {
		id, err := uuid.Parse(si.ID)
		if err != nil {
			return fmt.Errorf("instance %q: %w", si.ID, err)
		}
		tid, err := uuid.Parse(si.TemplateID)
		if err != nil {
			return fmt.Errorf("instance %s template: %w", id, err)
		}
		c.AddInstance(model.ExamInstance{
			ID:          id,
			TemplateID:  tid,
			StartsAt:    si.StartsAt,
			EndsAt:      si.EndsAt,
			Published:   si.Published,
			ShowAnswers: si.ShowAnswers,
		})
	}
	return nil
}

func (sq seedQuestion) toModel(templateID uuid.UUID) (model.Question, error) {
	qid, err := uuid.Parse(sq.ID)
	if err != nil {
		return model.Question{}, fmt.Errorf("question %q: %w", sq.ID, err)
	}
	q := model.Question{
		ID:         qid,
		TemplateID: templateID,
		Position:   sq.Position,
		Prompt:     sq.Prompt,
		Kind:       model.QuestionKind(sq.Kind),
		Points:     sq.Points,
	}
	if q.Kind == "" {
		q.Kind = model.QuestionKindSingle
	}
	for i, sc := range sq.Choices {
		cid, err := uuid.Parse(sc.ID)
		if err != nil {
			return model.Question{}, fmt.Errorf("choice %q: %w", sc.ID, err)
		}
		q.Choices = append(q.Choices, model.Choice{ID: cid, Label: sc.Label, Position: i + 1})
	}
	for _, raw := range sq.Correct {
		cid, err := uuid.Parse(raw)
		if err != nil {
			return model.Question{}, fmt.Errorf("correct choice %q: %w", raw, err)
		}
		q.CorrectChoiceIDs = append(q.CorrectChoiceIDs, cid)
	}
	return q, nil
}
