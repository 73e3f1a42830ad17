package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// CatalogRepository reads exam scheduling, question content and class
// rosters. The proctoring core never writes these tables.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetInstance retrieves an instance together with its template.
func (r *CatalogRepository) GetInstance(ctx context.Context, id uuid.UUID) (*model.ExamInstance, error) {
	inst := &model.ExamInstance{Template: &model.ExamTemplate{}}
	t := inst.Template
	err := r.pool.QueryRow(ctx,
		`SELECT i.id, i.template_id, i.starts_at, i.ends_at, i.published, i.show_answers,
		        t.id, t.class_id, t.owner_id, t.title, t.duration_seconds, t.passing_score
		 FROM exam_instances i
		 JOIN exam_templates t ON t.id = i.template_id
		 WHERE i.id = $1`, id,
	).Scan(
		&inst.ID, &inst.TemplateID, &inst.StartsAt, &inst.EndsAt, &inst.Published, &inst.ShowAnswers,
		&t.ID, &t.ClassID, &t.OwnerID, &t.Title, &t.DurationSeconds, &t.PassingScore,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return inst, nil
}

// ListQuestions returns a template's questions in order, with choices.
func (r *CatalogRepository) ListQuestions(ctx context.Context, templateID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, template_id, position, prompt, kind, points, correct_choice_ids
		 FROM questions
		 WHERE template_id = $1
		 ORDER BY position`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.TemplateID, &q.Position, &q.Prompt, &q.Kind, &q.Points, &q.CorrectChoiceIDs); err != nil {
			return nil, err
		}
		index[q.ID] = len(questions)
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return questions, nil
	}

	choiceRows, err := r.pool.Query(ctx,
		`SELECT c.id, c.question_id, c.label, c.position
		 FROM question_choices c
		 JOIN questions q ON q.id = c.question_id
		 WHERE q.template_id = $1
		 ORDER BY c.question_id, c.position`, templateID)
	if err != nil {
		return nil, err
	}
	defer choiceRows.Close()

	for choiceRows.Next() {
		var c model.Choice
		var questionID uuid.UUID
		if err := choiceRows.Scan(&c.ID, &questionID, &c.Label, &c.Position); err != nil {
			return nil, err
		}
		if i, ok := index[questionID]; ok {
			questions[i].Choices = append(questions[i].Choices, c)
		}
	}
	return questions, choiceRows.Err()
}

// GetClass retrieves a class by ID.
func (r *CatalogRepository) GetClass(ctx context.Context, classID int) (*model.Class, error) {
	c := &model.Class{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, teacher_id FROM classes WHERE id = $1`, classID,
	).Scan(&c.ID, &c.Name, &c.TeacherID)
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// IsApprovedEnrolled reports whether the user is an approved class member.
func (r *CatalogRepository) IsApprovedEnrolled(ctx context.Context, userID, classID int) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM class_enrollments
		   WHERE user_id = $1 AND class_id = $2 AND status = $3
		 )`, userID, classID, model.EnrollmentApproved,
	).Scan(&ok)
	return ok, err
}
