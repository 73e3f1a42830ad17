package service

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrMissingPointData marks a question that cannot be graded.
var ErrMissingPointData = errors.New("question has no valid point data")

// GradeResult is the outcome of grading one answer snapshot.
type GradeResult struct {
	Score    float64
	MaxScore float64
	Details  []model.QuestionResult
}

// Grade scores an answer snapshot. A question earns its full points only
// when the selected set equals the correct set exactly. The result depends
// only on its inputs, so repeated calls over the same snapshot agree.
func Grade(questions []model.Question, answers []model.Answer) (*GradeResult, error) {
	byQuestion := make(map[uuid.UUID][]uuid.UUID, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a.ChoiceIDs
	}

	ordered := make([]model.Question, len(questions))
	copy(ordered, questions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})

	res := &GradeResult{Details: make([]model.QuestionResult, 0, len(ordered))}
	var missing []uuid.UUID
	for _, q := range ordered {
		if q.Points <= 0 || len(q.CorrectChoiceIDs) == 0 {
			missing = append(missing, q.ID)
			continue
		}
		res.MaxScore += q.Points

		selected := byQuestion[q.ID]
		correct := sameChoiceSet(selected, q.CorrectChoiceIDs)
		detail := model.QuestionResult{
			QuestionID:       q.ID,
			Points:           q.Points,
			Correct:          correct,
			SelectedChoices:  selected,
			CorrectChoiceIDs: q.CorrectChoiceIDs,
		}
		if correct {
			detail.Awarded = q.Points
			res.Score += q.Points
		}
		res.Details = append(res.Details, detail)
	}

	if len(missing) > 0 {
		return res, fmt.Errorf("%w: %d question(s), first %s", ErrMissingPointData, len(missing), missing[0])
	}
	return res, nil
}

func sameChoiceSet(a, b []uuid.UUID) bool {
	as := toSet(a)
	bs := toSet(b)
	if len(as) != len(bs) {
		return false
	}
	for id := range as {
		if _, ok := bs[id]; !ok {
			return false
		}
	}
	return true
}

func toSet(ids []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// passed reports whether score meets the template passing percentage.
func passed(score, maxScore, passingPercent float64) bool {
	if maxScore <= 0 {
		return false
	}
	return score/maxScore*100 >= passingPercent
}
