package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/unireg-api/internal/models"
	appErrors "github.com/noah-isme/unireg-api/pkg/errors"
)

type mockStudentRepo struct {
	students map[int64]models.Student
	byEmail  map[string]models.StudentDetail
	nextID   int64
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	details := make([]models.StudentDetail, 0, len(m.students))
	for _, s := range m.students {
		details = append(details, models.StudentDetail{Student: s})
	}
	return details, len(details), nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id int64) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) FindDetailByEmail(ctx context.Context, email string) (*models.StudentDetail, error) {
	if d, ok := m.byEmail[email]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student) error {
	if m.students == nil {
		m.students = make(map[int64]models.Student)
	}
	m.nextID++
	student.ID = m.nextID
	m.students[student.ID] = *student
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, student *models.Student) error {
	if _, ok := m.students[student.ID]; !ok {
		return sql.ErrNoRows
	}
	m.students[student.ID] = *student
	return nil
}

func (m *mockStudentRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := m.students[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.students, id)
	return nil
}

type mockStudentEnrollments struct {
	courseIDs  []int64
	recounted  []int64
	recountErr error
}

func (m *mockStudentEnrollments) EnrolledCourseIDs(ctx context.Context, studentID int64) ([]int64, error) {
	return m.courseIDs, nil
}

func (m *mockStudentEnrollments) RecountEnrolled(ctx context.Context, courseID int64) (int, error) {
	if m.recountErr != nil {
		return 0, m.recountErr
	}
	m.recounted = append(m.recounted, courseID)
	return 0, nil
}

func TestStudentCreateDefaultsECTSLimit(t *testing.T) {
	repo := &mockStudentRepo{}
	svc := NewStudentService(repo, &mockStudentEnrollments{}, nil, validator.New(), zap.NewNop())

	student, err := svc.Create(context.Background(), CreateStudentRequest{
		StudentNumber: "S-1001",
		Email:         "Jane.Doe@Uni.EDU",
		FirstName:     "Jane",
		LastName:      "Doe",
	})
	require.NoError(t, err)
	assert.Equal(t, defaultECTSLimit, student.ECTSLimit)
	// emails are stored canonicalised
	assert.Equal(t, "jane.doe@uni.edu", student.Email)
}

func TestStudentCreateInvalidEmail(t *testing.T) {
	repo := &mockStudentRepo{}
	svc := NewStudentService(repo, &mockStudentEnrollments{}, nil, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateStudentRequest{
		StudentNumber: "S-1001",
		Email:         "not-an-email",
		FirstName:     "Jane",
		LastName:      "Doe",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestStudentMyProfile(t *testing.T) {
	repo := &mockStudentRepo{byEmail: map[string]models.StudentDetail{
		"jane@uni.edu": {Student: models.Student{ID: 1, Email: "jane@uni.edu", StudentNumber: "S-1001"}},
	}}
	svc := NewStudentService(repo, &mockStudentEnrollments{}, nil, validator.New(), zap.NewNop())

	profile, err := svc.MyProfile(context.Background(), models.Identity{Email: "jane@uni.edu", Role: models.RoleStudent})
	require.NoError(t, err)
	assert.Equal(t, "S-1001", profile.StudentNumber)
}

func TestStudentMyProfileUnknownIdentity(t *testing.T) {
	repo := &mockStudentRepo{}
	svc := NewStudentService(repo, &mockStudentEnrollments{}, nil, validator.New(), zap.NewNop())

	_, err := svc.MyProfile(context.Background(), models.Identity{Email: "ghost@uni.edu", Role: models.RoleStudent})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestStudentDeleteRecountsAffectedCourses(t *testing.T) {
	repo := &mockStudentRepo{students: map[int64]models.Student{1: {ID: 1}}}
	enrollments := &mockStudentEnrollments{courseIDs: []int64{10, 11}}
	svc := NewStudentService(repo, enrollments, nil, validator.New(), zap.NewNop())

	err := svc.Delete(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, enrollments.recounted)
	assert.Empty(t, repo.students)
}

func TestStudentDeleteRecountFailureSchedulesReconcile(t *testing.T) {
	repo := &mockStudentRepo{students: map[int64]models.Student{1: {ID: 1}}}
	enrollments := &mockStudentEnrollments{courseIDs: []int64{10}, recountErr: errors.New("timeout")}
	scheduler := &mockScheduler{}
	svc := NewStudentService(repo, enrollments, scheduler, validator.New(), zap.NewNop())

	// the student delete itself still succeeds
	err := svc.Delete(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, scheduler.enqueued)
}
