package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/unireg-api/internal/models"
	appErrors "github.com/noah-isme/unireg-api/pkg/errors"
)

type mockCourseRepo struct {
	courses        map[int64]models.Course
	nextID         int64
	listCalls      int
	listResult     []models.CourseDetail
	available      []models.CourseDetail
	availableCalls int
	lastPassing    []string
}

func (m *mockCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	m.listCalls++
	return m.listResult, len(m.listResult), nil
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id int64) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseRepo) ListAvailableForStudent(ctx context.Context, studentID int64, passingStatuses []string) ([]models.CourseDetail, error) {
	m.availableCalls++
	m.lastPassing = passingStatuses
	return m.available, nil
}

func (m *mockCourseRepo) Create(ctx context.Context, course *models.Course) error {
	if m.courses == nil {
		m.courses = make(map[int64]models.Course)
	}
	m.nextID++
	course.ID = m.nextID
	m.courses[course.ID] = *course
	return nil
}

func (m *mockCourseRepo) Update(ctx context.Context, course *models.Course) error {
	if _, ok := m.courses[course.ID]; !ok {
		return sql.ErrNoRows
	}
	m.courses[course.ID] = *course
	return nil
}

func (m *mockCourseRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := m.courses[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.courses, id)
	return nil
}

type memoryCacheRepo struct {
	entries map[string][]byte
	deleted []string
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.entries == nil {
		m.entries = make(map[string][]byte)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	m.deleted = append(m.deleted, pattern)
	m.entries = make(map[string][]byte)
	return nil
}

func TestCourseCreateDefaultsActive(t *testing.T) {
	repo := &mockCourseRepo{}
	svc := NewCourseService(repo, &mockStudentReader{}, nil, validator.New(), zap.NewNop())

	course, err := svc.Create(context.Background(), CreateCourseRequest{
		CourseCode: "CS101",
		Name:       "Intro to Computer Science",
		ECTS:       6,
		Quota:      30,
	})
	require.NoError(t, err)
	assert.True(t, course.IsActive)
	assert.Equal(t, 0, course.Enrolled)
}

func TestCourseCreateInvalidPayload(t *testing.T) {
	repo := &mockCourseRepo{}
	svc := NewCourseService(repo, &mockStudentReader{}, nil, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateCourseRequest{Name: "missing fields"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestCourseUpdateNotFound(t *testing.T) {
	repo := &mockCourseRepo{}
	svc := NewCourseService(repo, &mockStudentReader{}, nil, validator.New(), zap.NewNop())

	_, err := svc.Update(context.Background(), 404, UpdateCourseRequest{
		CourseCode: "CS101",
		Name:       "Renamed",
		ECTS:       6,
		Quota:      30,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestCourseListServedFromCache(t *testing.T) {
	repo := &mockCourseRepo{listResult: []models.CourseDetail{
		{Course: models.Course{ID: 1, CourseCode: "CS101", Name: "Intro", ECTS: 6, Quota: 30}},
	}}
	cacheRepo := &memoryCacheRepo{}
	cacheSvc := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	svc := NewCourseService(repo, &mockStudentReader{}, cacheSvc, validator.New(), zap.NewNop())

	// first call populates, second call must not hit the repo
	_, _, err := svc.List(context.Background(), models.CourseFilter{Page: 1, PageSize: 20})
	require.NoError(t, err)
	courses, _, err := svc.List(context.Background(), models.CourseFilter{Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls)
	require.Len(t, courses, 1)
	assert.Equal(t, "CS101", courses[0].CourseCode)
}

func TestCourseMutationInvalidatesCache(t *testing.T) {
	repo := &mockCourseRepo{}
	cacheRepo := &memoryCacheRepo{}
	cacheSvc := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	svc := NewCourseService(repo, &mockStudentReader{}, cacheSvc, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateCourseRequest{
		CourseCode: "CS102",
		Name:       "Data Structures",
		ECTS:       6,
		Quota:      25,
	})
	require.NoError(t, err)
	assert.Contains(t, cacheRepo.deleted, "courses:*")
}

func TestListAvailableUsesPassingStatuses(t *testing.T) {
	repo := &mockCourseRepo{available: []models.CourseDetail{}}
	students := &mockStudentReader{byEmail: map[string]models.Student{
		"jane@uni.edu": {ID: 1, Email: "jane@uni.edu", ECTSLimit: 30},
	}}
	svc := NewCourseService(repo, students, nil, validator.New(), zap.NewNop())

	_, err := svc.ListAvailable(context.Background(), models.Identity{Email: "jane@uni.edu", Role: models.RoleStudent})
	require.NoError(t, err)
	assert.Contains(t, repo.lastPassing, string(models.StatusPassed))
	assert.NotContains(t, repo.lastPassing, string(models.StatusFailed))
	assert.NotContains(t, repo.lastPassing, string(models.StatusDropped))
}

func TestListAvailableUnknownStudentEmpty(t *testing.T) {
	repo := &mockCourseRepo{available: []models.CourseDetail{{Course: models.Course{ID: 10}}}}
	svc := NewCourseService(repo, &mockStudentReader{}, nil, validator.New(), zap.NewNop())

	courses, err := svc.ListAvailable(context.Background(), models.Identity{Email: "ghost@uni.edu", Role: models.RoleStudent})
	require.NoError(t, err)
	assert.Empty(t, courses)
	assert.Zero(t, repo.availableCalls)
}
