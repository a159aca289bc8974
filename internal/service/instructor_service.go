package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/unireg-api/internal/models"
	appErrors "github.com/noah-isme/unireg-api/pkg/errors"
)

type instructorRepository interface {
	List(ctx context.Context, filter models.InstructorFilter) ([]models.InstructorDetail, int, error)
	FindByID(ctx context.Context, id int64) (*models.Instructor, error)
	FindByEmail(ctx context.Context, email string) (*models.Instructor, error)
	Create(ctx context.Context, instructor *models.Instructor) error
	Update(ctx context.Context, instructor *models.Instructor) error
	Delete(ctx context.Context, id int64) error
}

type instructorCourseLister interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error)
}

// CreateInstructorRequest is the admin payload for registering an instructor.
type CreateInstructorRequest struct {
	InstructorCode string `json:"instructor_code" validate:"required,max=32"`
	Email          string `json:"email" validate:"required,email"`
	FirstName      string `json:"first_name" validate:"required,max=100"`
	LastName       string `json:"last_name" validate:"required,max=100"`
	DepartmentID   *int64 `json:"department_ID" validate:"omitempty,gt=0"`
}

// UpdateInstructorRequest is the admin payload for editing an instructor.
type UpdateInstructorRequest struct {
	InstructorCode string `json:"instructor_code" validate:"required,max=32"`
	Email          string `json:"email" validate:"required,email"`
	FirstName      string `json:"first_name" validate:"required,max=100"`
	LastName       string `json:"last_name" validate:"required,max=100"`
	DepartmentID   *int64 `json:"department_ID" validate:"omitempty,gt=0"`
}

// InstructorService serves admin instructor management and the instructor's
// own profile and teaching views.
type InstructorService struct {
	repo      instructorRepository
	courses   instructorCourseLister
	validator *validator.Validate
	logger    *zap.Logger
}

// NewInstructorService constructs InstructorService.
func NewInstructorService(repo instructorRepository, courses instructorCourseLister, validate *validator.Validate, logger *zap.Logger) *InstructorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstructorService{repo: repo, courses: courses, validator: validate, logger: logger}
}

// List returns instructors with pagination.
func (s *InstructorService) List(ctx context.Context, filter models.InstructorFilter) ([]models.InstructorDetail, *models.Pagination, error) {
	instructors, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list instructors")
	}
	if instructors == nil {
		instructors = []models.InstructorDetail{}
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return instructors, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single instructor.
func (s *InstructorService) Get(ctx context.Context, id int64) (*models.Instructor, error) {
	instructor, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}
	return instructor, nil
}

// MyProfile resolves the calling identity to its instructor record.
func (s *InstructorService) MyProfile(ctx context.Context, actor models.Identity) (*models.Instructor, error) {
	instructor, err := s.repo.FindByEmail(ctx, actor.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor profile")
	}
	return instructor, nil
}

// MyCourses lists the courses the calling instructor teaches. An identity
// with no instructor record gets an empty list, not an error.
func (s *InstructorService) MyCourses(ctx context.Context, actor models.Identity) ([]models.CourseDetail, error) {
	instructor, err := s.repo.FindByEmail(ctx, actor.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			return []models.CourseDetail{}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve instructor")
	}
	courses, _, err := s.courses.List(ctx, models.CourseFilter{InstructorID: &instructor.ID, PageSize: 200})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	if courses == nil {
		courses = []models.CourseDetail{}
	}
	return courses, nil
}

// Create registers a new instructor.
func (s *InstructorService) Create(ctx context.Context, req CreateInstructorRequest) (*models.Instructor, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid instructor payload")
	}
	instructor := &models.Instructor{
		InstructorCode: req.InstructorCode,
		Email:          models.NormalizeEmail(req.Email),
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		DepartmentID:   req.DepartmentID,
	}
	if err := s.repo.Create(ctx, instructor); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create instructor")
	}
	return instructor, nil
}

// Update edits an existing instructor.
func (s *InstructorService) Update(ctx context.Context, id int64, req UpdateInstructorRequest) (*models.Instructor, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid instructor payload")
	}
	instructor, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}
	instructor.InstructorCode = req.InstructorCode
	instructor.Email = models.NormalizeEmail(req.Email)
	instructor.FirstName = req.FirstName
	instructor.LastName = req.LastName
	instructor.DepartmentID = req.DepartmentID
	if err := s.repo.Update(ctx, instructor); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update instructor")
	}
	return instructor, nil
}

// Delete removes an instructor. Courses keep their rows; the instructor
// reference is nulled at the database level.
func (s *InstructorService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete instructor")
	}
	return nil
}
