package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/unireg-api/internal/models"
	"github.com/noah-isme/unireg-api/internal/repository"
	appErrors "github.com/noah-isme/unireg-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	enrollments  map[int64]models.Enrollment
	nextID       int64
	ectsUsed     int
	enrolled     int
	recountErr   error
	recounted    []int64
	createErr    error
	lastFilter   models.EnrollmentFilter
	listResult   []models.EnrollmentDetail
	listTotal    int
	updatedGrade *float64
	updatedTo    models.EnrollmentStatus
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	m.lastFilter = filter
	return m.listResult, m.listTotal, nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id int64) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindDetailByID(ctx context.Context, id int64) (*models.EnrollmentDetail, error) {
	if e, ok := m.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: e}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) ExistsByStudentAndCourse(ctx context.Context, studentID, courseID int64) (bool, error) {
	for _, e := range m.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockEnrollmentRepo) SumActiveECTS(ctx context.Context, studentID int64, countedStatuses []string) (int, error) {
	return m.ectsUsed, nil
}

func (m *mockEnrollmentRepo) CountEnrolled(ctx context.Context, courseID int64) (int, error) {
	return m.enrolled, nil
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if m.createErr != nil {
		return m.createErr
	}
	if m.enrollments == nil {
		m.enrollments = make(map[int64]models.Enrollment)
	}
	m.nextID++
	enrollment.ID = m.nextID
	enrollment.CreatedAt = time.Now()
	enrollment.UpdatedAt = enrollment.CreatedAt
	m.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (m *mockEnrollmentRepo) UpdateGrade(ctx context.Context, id int64, grade *float64, status models.EnrollmentStatus) (*models.Enrollment, error) {
	previous, ok := m.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	m.updatedGrade = grade
	m.updatedTo = status
	updated := previous
	updated.Grade = grade
	updated.Status = status
	m.enrollments[id] = updated
	return &previous, nil
}

func (m *mockEnrollmentRepo) Delete(ctx context.Context, id int64) (int64, error) {
	e, ok := m.enrollments[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	delete(m.enrollments, id)
	return e.CourseID, nil
}

func (m *mockEnrollmentRepo) RecountEnrolled(ctx context.Context, courseID int64) (int, error) {
	if m.recountErr != nil {
		return 0, m.recountErr
	}
	m.recounted = append(m.recounted, courseID)
	return m.enrolled, nil
}

type mockStudentReader struct {
	byEmail  map[string]models.Student
	byID     map[int64]models.Student
	emailErr error
}

func (m *mockStudentReader) FindByID(ctx context.Context, id int64) (*models.Student, error) {
	if s, ok := m.byID[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentReader) FindByEmail(ctx context.Context, email string) (*models.Student, error) {
	if m.emailErr != nil {
		return nil, m.emailErr
	}
	if s, ok := m.byEmail[email]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

type mockCourseReader struct {
	courses map[int64]models.Course
}

func (m *mockCourseReader) FindByID(ctx context.Context, id int64) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

type mockInstructorReader struct {
	byEmail map[string]models.Instructor
}

func (m *mockInstructorReader) FindByEmail(ctx context.Context, email string) (*models.Instructor, error) {
	if i, ok := m.byEmail[email]; ok {
		return &i, nil
	}
	return nil, sql.ErrNoRows
}

type mockScheduler struct {
	enqueued []int64
}

func (m *mockScheduler) EnqueueRecount(courseID int64) {
	m.enqueued = append(m.enqueued, courseID)
}

func ptrInt64(v int64) *int64 { return &v }

func ptrFloat(v float64) *float64 { return &v }

func newEnrollmentFixture() (*EnrollmentService, *mockEnrollmentRepo, *mockScheduler) {
	repo := &mockEnrollmentRepo{enrollments: make(map[int64]models.Enrollment)}
	students := &mockStudentReader{
		byEmail: map[string]models.Student{
			"jane@uni.edu": {ID: 1, Email: "jane@uni.edu", ECTSLimit: 30},
		},
		byID: map[int64]models.Student{
			1: {ID: 1, Email: "jane@uni.edu", ECTSLimit: 30},
		},
	}
	courses := &mockCourseReader{courses: map[int64]models.Course{
		10: {ID: 10, CourseCode: "CS101", ECTS: 6, Quota: 30, IsActive: true, InstructorID: ptrInt64(5)},
	}}
	instructors := &mockInstructorReader{byEmail: map[string]models.Instructor{
		"prof@uni.edu": {ID: 5, Email: "prof@uni.edu"},
	}}
	scheduler := &mockScheduler{}
	svc := NewEnrollmentService(repo, students, courses, instructors, scheduler, nil, nil, validator.New(), zap.NewNop())
	return svc, repo, scheduler
}

func studentIdentity() models.Identity {
	return models.Identity{Email: "jane@uni.edu", Role: models.RoleStudent}
}

func TestEnrollSuccess(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()

	detail, err := svc.Enroll(context.Background(), studentIdentity(), EnrollRequest{CourseID: 10})
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnrolled, detail.Status)
	assert.Equal(t, int64(1), detail.StudentID)
	assert.Equal(t, int64(10), detail.CourseID)
	assert.Equal(t, []int64{10}, repo.recounted)
}

func TestEnrollUnknownStudent(t *testing.T) {
	svc, _, _ := newEnrollmentFixture()

	_, err := svc.Enroll(context.Background(), models.Identity{Email: "ghost@uni.edu", Role: models.RoleStudent}, EnrollRequest{CourseID: 10})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestEnrollUnknownCourse(t *testing.T) {
	svc, _, _ := newEnrollmentFixture()

	_, err := svc.Enroll(context.Background(), studentIdentity(), EnrollRequest{CourseID: 999})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestEnrollDuplicate(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.enrollments[50] = models.Enrollment{ID: 50, StudentID: 1, CourseID: 10, Status: models.StatusEnrolled}

	_, err := svc.Enroll(context.Background(), studentIdentity(), EnrollRequest{CourseID: 10})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicateEnrollment))
}

func TestEnrollInsufficientECTS(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.ectsUsed = 26 // limit 30, course needs 6

	_, err := svc.Enroll(context.Background(), studentIdentity(), EnrollRequest{CourseID: 10})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInsufficientCredit))
	assert.Contains(t, err.Error(), "need 6 ECTS but only have 4 available")
}

func TestEnrollCourseFull(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.enrolled = 30 // quota 30

	_, err := svc.Enroll(context.Background(), studentIdentity(), EnrollRequest{CourseID: 10})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCourseFull))
	assert.Contains(t, err.Error(), "30/30")
}

func TestEnrollStorageDuplicateRace(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.createErr = repository.ErrDuplicate

	_, err := svc.Enroll(context.Background(), studentIdentity(), EnrollRequest{CourseID: 10})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicateEnrollment))
}

func TestEnrollStorageQuotaRace(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.createErr = repository.ErrQuotaReached

	_, err := svc.Enroll(context.Background(), studentIdentity(), EnrollRequest{CourseID: 10})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCourseFull))
}

func TestEnrollRecountFailureSchedulesReconcile(t *testing.T) {
	svc, repo, scheduler := newEnrollmentFixture()
	repo.recountErr = errors.New("connection reset")

	_, err := svc.Enroll(context.Background(), studentIdentity(), EnrollRequest{CourseID: 10})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInconsistency))
	assert.Equal(t, []int64{10}, scheduler.enqueued)
	// the committed enrollment row survives the recount failure
	assert.Len(t, repo.enrollments, 1)
}

func TestAdminEnroll(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()

	detail, err := svc.AdminEnroll(context.Background(), AdminEnrollRequest{StudentID: 1, CourseID: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), detail.StudentID)
	assert.Equal(t, []int64{10}, repo.recounted)
}

func TestAdminEnrollUnknownStudent(t *testing.T) {
	svc, _, _ := newEnrollmentFixture()

	_, err := svc.AdminEnroll(context.Background(), AdminEnrollRequest{StudentID: 99, CourseID: 10})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestSetGradeDerivesStatus(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.enrollments[50] = models.Enrollment{ID: 50, StudentID: 1, CourseID: 10, Status: models.StatusEnrolled}
	admin := models.Identity{Email: "admin@uni.edu", Role: models.RoleAdmin}

	detail, err := svc.SetGrade(context.Background(), admin, 50, GradeRequest{Grade: ptrFloat(17)})
	require.NoError(t, err)
	assert.Equal(t, models.StatusVeryGood, detail.Status)
	require.NotNil(t, detail.Grade)
	assert.Equal(t, 17.0, *detail.Grade)
	// grading an ENROLLED row frees a seat
	assert.Equal(t, []int64{10}, repo.recounted)
}

func TestSetGradeZeroIsFailed(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.enrollments[50] = models.Enrollment{ID: 50, StudentID: 1, CourseID: 10, Status: models.StatusEnrolled}
	admin := models.Identity{Email: "admin@uni.edu", Role: models.RoleAdmin}

	detail, err := svc.SetGrade(context.Background(), admin, 50, GradeRequest{Grade: ptrFloat(0)})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, detail.Status)
	require.NotNil(t, detail.Grade)
	assert.Equal(t, 0.0, *detail.Grade)
}

func TestSetGradeNullClears(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.enrollments[50] = models.Enrollment{ID: 50, StudentID: 1, CourseID: 10, Status: models.StatusPassed, Grade: ptrFloat(11)}
	admin := models.Identity{Email: "admin@uni.edu", Role: models.RoleAdmin}

	detail, err := svc.SetGrade(context.Background(), admin, 50, GradeRequest{Grade: nil})
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnrolled, detail.Status)
	assert.Nil(t, detail.Grade)
	// moving back to ENROLLED takes a seat again
	assert.Equal(t, []int64{10}, repo.recounted)
}

func TestSetGradeOutOfRange(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.enrollments[50] = models.Enrollment{ID: 50, StudentID: 1, CourseID: 10, Status: models.StatusEnrolled}
	admin := models.Identity{Email: "admin@uni.edu", Role: models.RoleAdmin}

	for _, grade := range []float64{-1, 20.5, 100} {
		_, err := svc.SetGrade(context.Background(), admin, 50, GradeRequest{Grade: ptrFloat(grade)})
		require.Error(t, err, "grade %v", grade)
		assert.True(t, appErrors.Is(err, appErrors.ErrInvalidGrade))
	}
}

func TestSetGradeNoRecountWhenStatusStaysGraded(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.enrollments[50] = models.Enrollment{ID: 50, StudentID: 1, CourseID: 10, Status: models.StatusGood, Grade: ptrFloat(14)}
	admin := models.Identity{Email: "admin@uni.edu", Role: models.RoleAdmin}

	_, err := svc.SetGrade(context.Background(), admin, 50, GradeRequest{Grade: ptrFloat(19)})
	require.NoError(t, err)
	assert.Empty(t, repo.recounted)
}

func TestSetGradeInstructorOwnCourse(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.enrollments[50] = models.Enrollment{ID: 50, StudentID: 1, CourseID: 10, Status: models.StatusEnrolled}
	prof := models.Identity{Email: "prof@uni.edu", Role: models.RoleInstructor}

	detail, err := svc.SetGrade(context.Background(), prof, 50, GradeRequest{Grade: ptrFloat(12)})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSatisfactory, detail.Status)
}

func TestSetGradeInstructorForeignCourse(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.enrollments[50] = models.Enrollment{ID: 50, StudentID: 1, CourseID: 10, Status: models.StatusEnrolled}
	other := models.Identity{Email: "other@uni.edu", Role: models.RoleInstructor}

	_, err := svc.SetGrade(context.Background(), other, 50, GradeRequest{Grade: ptrFloat(12)})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestDeleteRecountsRegardlessOfStatus(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.enrollments[50] = models.Enrollment{ID: 50, StudentID: 1, CourseID: 10, Status: models.StatusFailed, Grade: ptrFloat(4)}
	admin := models.Identity{Email: "admin@uni.edu", Role: models.RoleAdmin}

	err := svc.Delete(context.Background(), admin, 50)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, repo.recounted)
	assert.Empty(t, repo.enrollments)
}

func TestDeleteStudentOwnsRow(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.enrollments[50] = models.Enrollment{ID: 50, StudentID: 1, CourseID: 10, Status: models.StatusEnrolled}

	err := svc.Delete(context.Background(), studentIdentity(), 50)
	require.NoError(t, err)
	assert.Empty(t, repo.enrollments)
}

func TestDeleteStudentForeignRow(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.enrollments[50] = models.Enrollment{ID: 50, StudentID: 2, CourseID: 10, Status: models.StatusEnrolled}

	err := svc.Delete(context.Background(), studentIdentity(), 50)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	assert.Len(t, repo.enrollments, 1)
}

func TestDeleteOwnershipLookupFailure(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[int64]models.Enrollment{
		50: {ID: 50, StudentID: 1, CourseID: 10, Status: models.StatusEnrolled},
	}}
	students := &mockStudentReader{emailErr: errors.New("connection reset")}
	svc := NewEnrollmentService(repo, students, &mockCourseReader{}, &mockInstructorReader{}, &mockScheduler{}, nil, nil, validator.New(), zap.NewNop())

	err := svc.Delete(context.Background(), studentIdentity(), 50)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))
	assert.False(t, appErrors.Is(err, appErrors.ErrForbidden))
	assert.Len(t, repo.enrollments, 1)
}

func TestDeleteNotFound(t *testing.T) {
	svc, _, _ := newEnrollmentFixture()
	admin := models.Identity{Email: "admin@uni.edu", Role: models.RoleAdmin}

	err := svc.Delete(context.Background(), admin, 404)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestListScopesStudentToOwnRows(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	repo.listResult = []models.EnrollmentDetail{}

	_, _, err := svc.List(context.Background(), studentIdentity(), models.EnrollmentFilter{})
	require.NoError(t, err)
	require.NotNil(t, repo.lastFilter.StudentID)
	assert.Equal(t, int64(1), *repo.lastFilter.StudentID)
}

func TestListScopesInstructorToOwnCourses(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	prof := models.Identity{Email: "prof@uni.edu", Role: models.RoleInstructor}

	_, _, err := svc.List(context.Background(), prof, models.EnrollmentFilter{})
	require.NoError(t, err)
	require.NotNil(t, repo.lastFilter.InstructorID)
	assert.Equal(t, int64(5), *repo.lastFilter.InstructorID)
}

func TestListUnknownInstructorDegradesToEmpty(t *testing.T) {
	svc, _, _ := newEnrollmentFixture()
	ghost := models.Identity{Email: "ghost@uni.edu", Role: models.RoleInstructor}

	enrollments, pagination, err := svc.List(context.Background(), ghost, models.EnrollmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, enrollments)
	assert.Equal(t, 0, pagination.TotalCount)
}

func TestListAdminUnfiltered(t *testing.T) {
	svc, repo, _ := newEnrollmentFixture()
	admin := models.Identity{Email: "admin@uni.edu", Role: models.RoleAdmin}

	_, _, err := svc.List(context.Background(), admin, models.EnrollmentFilter{})
	require.NoError(t, err)
	assert.Nil(t, repo.lastFilter.StudentID)
	assert.Nil(t, repo.lastFilter.InstructorID)
}
