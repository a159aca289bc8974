package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/unireg-api/internal/models"
	appErrors "github.com/noah-isme/unireg-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error)
	FindByID(ctx context.Context, id int64) (*models.Course, error)
	ListAvailableForStudent(ctx context.Context, studentID int64, passingStatuses []string) ([]models.CourseDetail, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, id int64) error
}

// CreateCourseRequest is the admin payload for a new course.
type CreateCourseRequest struct {
	CourseCode   string `json:"course_code" validate:"required,max=32"`
	Name         string `json:"name" validate:"required,max=255"`
	ECTS         int    `json:"ects" validate:"required,gt=0"`
	Quota        int    `json:"quota" validate:"required,gt=0"`
	IsActive     *bool  `json:"is_active"`
	DepartmentID *int64 `json:"department_ID" validate:"omitempty,gt=0"`
	InstructorID *int64 `json:"instructor_ID" validate:"omitempty,gt=0"`
}

// UpdateCourseRequest is the admin payload for editing a course. The
// enrolled count is deliberately absent: it is owned by the recalculator.
type UpdateCourseRequest struct {
	CourseCode   string `json:"course_code" validate:"required,max=32"`
	Name         string `json:"name" validate:"required,max=255"`
	ECTS         int    `json:"ects" validate:"required,gt=0"`
	Quota        int    `json:"quota" validate:"required,gt=0"`
	IsActive     *bool  `json:"is_active"`
	DepartmentID *int64 `json:"department_ID" validate:"omitempty,gt=0"`
	InstructorID *int64 `json:"instructor_ID" validate:"omitempty,gt=0"`
}

type cachedCourseList struct {
	Items []models.CourseDetail `json:"items"`
	Total int                   `json:"total"`
}

// CourseService serves the course catalog and admin course management.
type CourseService struct {
	repo      courseRepository
	students  studentReader
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, students studentReader, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, students: students, cache: cache, validator: validate, logger: logger}
}

// List returns the course catalog, served from cache when enabled.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, *models.Pagination, error) {
	key := courseListCacheKey(filter)
	if s.cache.Enabled() {
		var cached cachedCourseList
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return cached.Items, coursePaginationFor(filter, cached.Total), nil
		}
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	if courses == nil {
		courses = []models.CourseDetail{}
	}
	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, key, cachedCourseList{Items: courses, Total: total}, 0)
	}
	return courses, coursePaginationFor(filter, total), nil
}

// Get returns a single course.
func (s *CourseService) Get(ctx context.Context, id int64) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// ListAvailable returns active courses the calling student can still take:
// courses they are not currently enrolled in and have not already passed.
// Failed and dropped courses remain available for retake. An identity with
// no student record gets an empty list, not an error.
func (s *CourseService) ListAvailable(ctx context.Context, actor models.Identity) ([]models.CourseDetail, error) {
	student, err := s.students.FindByEmail(ctx, actor.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			return []models.CourseDetail{}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
	}
	courses, err := s.repo.ListAvailableForStudent(ctx, student.ID, PassingStatuses())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list available courses")
	}
	if courses == nil {
		courses = []models.CourseDetail{}
	}
	return courses, nil
}

// Create adds a course to the catalog. New courses start with an enrolled
// count of zero.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course := &models.Course{
		CourseCode:   req.CourseCode,
		Name:         req.Name,
		ECTS:         req.ECTS,
		Quota:        req.Quota,
		IsActive:     true,
		DepartmentID: req.DepartmentID,
		InstructorID: req.InstructorID,
	}
	if req.IsActive != nil {
		course.IsActive = *req.IsActive
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	s.invalidateCatalog(ctx)
	return course, nil
}

// Update edits catalog fields of an existing course.
func (s *CourseService) Update(ctx context.Context, id int64, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	course.CourseCode = req.CourseCode
	course.Name = req.Name
	course.ECTS = req.ECTS
	course.Quota = req.Quota
	course.DepartmentID = req.DepartmentID
	course.InstructorID = req.InstructorID
	if req.IsActive != nil {
		course.IsActive = *req.IsActive
	}
	if err := s.repo.Update(ctx, course); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	s.invalidateCatalog(ctx)
	return course, nil
}

// Delete removes a course. Enrollment rows cascade at the database level.
func (s *CourseService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	s.invalidateCatalog(ctx)
	return nil
}

func (s *CourseService) invalidateCatalog(ctx context.Context) {
	if s.cache.Enabled() {
		_ = s.cache.Invalidate(ctx, "courses:*")
	}
}

func courseListCacheKey(filter models.CourseFilter) string {
	dep := int64(0)
	if filter.DepartmentID != nil {
		dep = *filter.DepartmentID
	}
	ins := int64(0)
	if filter.InstructorID != nil {
		ins = *filter.InstructorID
	}
	return fmt.Sprintf("courses:list:q=%s:d=%d:i=%d:a=%t:p=%d:s=%d:sort=%s-%s",
		filter.Search, dep, ins, filter.ActiveOnly, filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder)
}

func coursePaginationFor(filter models.CourseFilter, total int) *models.Pagination {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
