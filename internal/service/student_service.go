package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/unireg-api/internal/models"
	appErrors "github.com/noah-isme/unireg-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id int64) (*models.Student, error)
	FindDetailByEmail(ctx context.Context, email string) (*models.StudentDetail, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id int64) error
}

// CreateStudentRequest is the admin payload for registering a student.
type CreateStudentRequest struct {
	StudentNumber string `json:"student_number" validate:"required,max=32"`
	Email         string `json:"email" validate:"required,email"`
	FirstName     string `json:"first_name" validate:"required,max=100"`
	LastName      string `json:"last_name" validate:"required,max=100"`
	ECTSLimit     int    `json:"ects_limit" validate:"omitempty,gt=0"`
	DepartmentID  *int64 `json:"department_ID" validate:"omitempty,gt=0"`
}

// UpdateStudentRequest is the admin payload for editing a student.
type UpdateStudentRequest struct {
	StudentNumber string `json:"student_number" validate:"required,max=32"`
	Email         string `json:"email" validate:"required,email"`
	FirstName     string `json:"first_name" validate:"required,max=100"`
	LastName      string `json:"last_name" validate:"required,max=100"`
	ECTSLimit     int    `json:"ects_limit" validate:"required,gt=0"`
	DepartmentID  *int64 `json:"department_ID" validate:"omitempty,gt=0"`
}

type studentEnrollmentRecounter interface {
	EnrolledCourseIDs(ctx context.Context, studentID int64) ([]int64, error)
	RecountEnrolled(ctx context.Context, courseID int64) (int, error)
}

const defaultECTSLimit = 30

// StudentService serves admin student management and the student's own
// profile view.
type StudentService struct {
	repo        studentRepository
	enrollments studentEnrollmentRecounter
	reconciler  recountScheduler
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewStudentService constructs StudentService.
func NewStudentService(repo studentRepository, enrollments studentEnrollmentRecounter, reconciler recountScheduler, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, enrollments: enrollments, reconciler: reconciler, validator: validate, logger: logger}
}

// List returns students with pagination.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	if students == nil {
		students = []models.StudentDetail{}
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single student.
func (s *StudentService) Get(ctx context.Context, id int64) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// MyProfile resolves the calling identity to its student record.
func (s *StudentService) MyProfile(ctx context.Context, actor models.Identity) (*models.StudentDetail, error) {
	student, err := s.repo.FindDetailByEmail(ctx, actor.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
	}
	return student, nil
}

// Create registers a new student. The ECTS limit defaults when omitted.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	limit := req.ECTSLimit
	if limit <= 0 {
		limit = defaultECTSLimit
	}
	student := &models.Student{
		StudentNumber: req.StudentNumber,
		Email:         models.NormalizeEmail(req.Email),
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		ECTSLimit:     limit,
		DepartmentID:  req.DepartmentID,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	return student, nil
}

// Update edits an existing student.
func (s *StudentService) Update(ctx context.Context, id int64, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	student.StudentNumber = req.StudentNumber
	student.Email = models.NormalizeEmail(req.Email)
	student.FirstName = req.FirstName
	student.LastName = req.LastName
	student.ECTSLimit = req.ECTSLimit
	student.DepartmentID = req.DepartmentID
	if err := s.repo.Update(ctx, student); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	return student, nil
}

// Delete removes a student. Enrollment rows cascade with the delete, so the
// affected courses are captured first and recounted afterwards.
func (s *StudentService) Delete(ctx context.Context, id int64) error {
	courseIDs, err := s.enrollments.EnrolledCourseIDs(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect enrollments")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	for _, courseID := range courseIDs {
		if _, err := s.enrollments.RecountEnrolled(ctx, courseID); err != nil {
			s.logger.Error("enrolled recount failed after student delete",
				zap.Int64("student_id", id),
				zap.Int64("course_id", courseID),
				zap.Error(err),
			)
			if s.reconciler != nil {
				s.reconciler.EnqueueRecount(courseID)
			}
		}
	}
	return nil
}
