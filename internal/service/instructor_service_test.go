package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/unireg-api/internal/models"
	appErrors "github.com/noah-isme/unireg-api/pkg/errors"
)

type mockInstructorRepo struct {
	instructors map[int64]models.Instructor
	byEmail     map[string]models.Instructor
	nextID      int64
}

func (m *mockInstructorRepo) List(ctx context.Context, filter models.InstructorFilter) ([]models.InstructorDetail, int, error) {
	details := make([]models.InstructorDetail, 0, len(m.instructors))
	for _, i := range m.instructors {
		details = append(details, models.InstructorDetail{Instructor: i})
	}
	return details, len(details), nil
}

func (m *mockInstructorRepo) FindByID(ctx context.Context, id int64) (*models.Instructor, error) {
	if i, ok := m.instructors[id]; ok {
		return &i, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockInstructorRepo) FindByEmail(ctx context.Context, email string) (*models.Instructor, error) {
	if i, ok := m.byEmail[email]; ok {
		return &i, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockInstructorRepo) Create(ctx context.Context, instructor *models.Instructor) error {
	if m.instructors == nil {
		m.instructors = make(map[int64]models.Instructor)
	}
	m.nextID++
	instructor.ID = m.nextID
	m.instructors[instructor.ID] = *instructor
	return nil
}

func (m *mockInstructorRepo) Update(ctx context.Context, instructor *models.Instructor) error {
	if _, ok := m.instructors[instructor.ID]; !ok {
		return sql.ErrNoRows
	}
	m.instructors[instructor.ID] = *instructor
	return nil
}

func (m *mockInstructorRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := m.instructors[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.instructors, id)
	return nil
}

type mockCourseLister struct {
	lastFilter models.CourseFilter
	courses    []models.CourseDetail
}

func (m *mockCourseLister) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	m.lastFilter = filter
	return m.courses, len(m.courses), nil
}

func TestInstructorMyCourses(t *testing.T) {
	repo := &mockInstructorRepo{byEmail: map[string]models.Instructor{
		"prof@uni.edu": {ID: 5, Email: "prof@uni.edu"},
	}}
	courses := &mockCourseLister{courses: []models.CourseDetail{
		{Course: models.Course{ID: 10, CourseCode: "CS101"}},
	}}
	svc := NewInstructorService(repo, courses, validator.New(), zap.NewNop())

	result, err := svc.MyCourses(context.Background(), models.Identity{Email: "prof@uni.edu", Role: models.RoleInstructor})
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.NotNil(t, courses.lastFilter.InstructorID)
	assert.Equal(t, int64(5), *courses.lastFilter.InstructorID)
}

func TestInstructorMyCoursesUnknownIdentityIsEmpty(t *testing.T) {
	repo := &mockInstructorRepo{}
	courses := &mockCourseLister{}
	svc := NewInstructorService(repo, courses, validator.New(), zap.NewNop())

	result, err := svc.MyCourses(context.Background(), models.Identity{Email: "ghost@uni.edu", Role: models.RoleInstructor})
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestInstructorMyProfileUnknownIdentity(t *testing.T) {
	repo := &mockInstructorRepo{}
	svc := NewInstructorService(repo, &mockCourseLister{}, validator.New(), zap.NewNop())

	_, err := svc.MyProfile(context.Background(), models.Identity{Email: "ghost@uni.edu", Role: models.RoleInstructor})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestInstructorCreateNormalizesEmail(t *testing.T) {
	repo := &mockInstructorRepo{}
	svc := NewInstructorService(repo, &mockCourseLister{}, validator.New(), zap.NewNop())

	instructor, err := svc.Create(context.Background(), CreateInstructorRequest{
		InstructorCode: "I-200",
		Email:          "Prof@Uni.EDU",
		FirstName:      "Ada",
		LastName:       "Lovelace",
	})
	require.NoError(t, err)
	assert.Equal(t, "prof@uni.edu", instructor.Email)
}
