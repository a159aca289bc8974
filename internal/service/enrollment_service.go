package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/unireg-api/internal/models"
	"github.com/noah-isme/unireg-api/internal/repository"
	appErrors "github.com/noah-isme/unireg-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id int64) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id int64) (*models.EnrollmentDetail, error)
	ExistsByStudentAndCourse(ctx context.Context, studentID, courseID int64) (bool, error)
	SumActiveECTS(ctx context.Context, studentID int64, countedStatuses []string) (int, error)
	CountEnrolled(ctx context.Context, courseID int64) (int, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	UpdateGrade(ctx context.Context, id int64, grade *float64, status models.EnrollmentStatus) (*models.Enrollment, error)
	Delete(ctx context.Context, id int64) (int64, error)
	RecountEnrolled(ctx context.Context, courseID int64) (int, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id int64) (*models.Student, error)
	FindByEmail(ctx context.Context, email string) (*models.Student, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id int64) (*models.Course, error)
}

type instructorReader interface {
	FindByEmail(ctx context.Context, email string) (*models.Instructor, error)
}

type recountScheduler interface {
	EnqueueRecount(courseID int64)
}

// EnrollRequest describes a self-service enrollment creation payload.
type EnrollRequest struct {
	CourseID int64 `json:"course_ID" validate:"required,gt=0"`
}

// AdminEnrollRequest describes an admin override enrollment payload.
type AdminEnrollRequest struct {
	StudentID int64 `json:"student_ID" validate:"required,gt=0"`
	CourseID  int64 `json:"course_ID" validate:"required,gt=0"`
}

// GradeRequest carries a grade assignment. A null grade clears the grade and
// reverts the status to ENROLLED; zero is a legitimate failing grade, not a
// clear.
type GradeRequest struct {
	Grade *float64 `json:"grade"`
}

// EnrollmentService is the enrollment consistency engine: every create,
// grade update and delete of enrollment rows runs through here, and every
// mutation is followed by a synchronous recount of the course's enrolled
// count before the response is returned.
type EnrollmentService struct {
	repo        enrollmentRepository
	students    studentReader
	courses     courseReader
	instructors instructorReader
	reconciler  recountScheduler
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students studentReader, courses courseReader, instructors instructorReader, reconciler recountScheduler, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:        repo,
		students:    students,
		courses:     courses,
		instructors: instructors,
		reconciler:  reconciler,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
}

// List returns enrollments narrowed to what the caller may see: admins get
// everything, instructors their own courses' rows, students their own rows.
// An identity with no matching record degrades to an empty result.
func (s *EnrollmentService) List(ctx context.Context, actor models.Identity, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	switch actor.Role {
	case models.RoleAdmin:
		// no narrowing
	case models.RoleInstructor:
		instructor, err := s.instructors.FindByEmail(ctx, actor.Email)
		if err != nil {
			if err == sql.ErrNoRows {
				return []models.EnrollmentDetail{}, emptyPagination(filter), nil
			}
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve instructor")
		}
		filter.InstructorID = &instructor.ID
	default:
		student, err := s.students.FindByEmail(ctx, actor.Email)
		if err != nil {
			if err == sql.ErrNoRows {
				return []models.EnrollmentDetail{}, emptyPagination(filter), nil
			}
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
		}
		filter.StudentID = &student.ID
	}

	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	if enrollments == nil {
		enrollments = []models.EnrollmentDetail{}
	}
	return enrollments, paginationFor(filter, total), nil
}

// Enroll registers the calling student in a course. The student is always
// inferred from the identity, never from client input.
func (s *EnrollmentService) Enroll(ctx context.Context, actor models.Identity, req EnrollRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	student, err := s.students.FindByEmail(ctx, actor.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
	}
	return s.enroll(ctx, student, req.CourseID)
}

// AdminEnroll registers an explicit student in a course on their behalf.
func (s *EnrollmentService) AdminEnroll(ctx context.Context, req AdminEnrollRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return s.enroll(ctx, student, req.CourseID)
}

// enroll runs the ordered preconditions: duplicate check, course existence,
// ECTS budget, capacity. Each failure aborts before any write. The storage
// layer re-checks quota and uniqueness under lock, so the race windows
// between these reads and the insert stay closed.
func (s *EnrollmentService) enroll(ctx context.Context, student *models.Student, courseID int64) (*models.EnrollmentDetail, error) {
	exists, err := s.repo.ExistsByStudentAndCourse(ctx, student.ID, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}
	if exists {
		return nil, appErrors.ErrDuplicateEnrollment
	}

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	ectsUsed, err := s.repo.SumActiveECTS(ctx, student.ID, CreditCountedStatuses())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute ECTS load")
	}
	available := student.ECTSLimit - ectsUsed
	if course.ECTS > available {
		return nil, appErrors.Clone(appErrors.ErrInsufficientCredit,
			fmt.Sprintf("insufficient ECTS: you need %d ECTS but only have %d available", course.ECTS, available))
	}

	enrolled, err := s.repo.CountEnrolled(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	if enrolled >= course.Quota {
		return nil, appErrors.Clone(appErrors.ErrCourseFull,
			fmt.Sprintf("course is full (%d/%d)", enrolled, course.Quota))
	}

	enrollment := &models.Enrollment{
		StudentID:      student.ID,
		CourseID:       courseID,
		Status:         models.StatusEnrolled,
		EnrollmentDate: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, appErrors.ErrDuplicateEnrollment
		case errors.Is(err, repository.ErrQuotaReached):
			return nil, appErrors.Clone(appErrors.ErrCourseFull,
				fmt.Sprintf("course is full (%d/%d)", course.Quota, course.Quota))
		case err == sql.ErrNoRows:
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	s.metrics.RecordEnrollmentMutation("create")
	if err := s.recount(ctx, courseID); err != nil {
		return nil, err
	}
	s.invalidateCatalog(ctx)

	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// SetGrade assigns or clears a grade. Status is always derived from the
// grade, never accepted from the caller. Instructors may only grade
// enrollments in courses they teach.
func (s *EnrollmentService) SetGrade(ctx context.Context, actor models.Identity, id int64, req GradeRequest) (*models.EnrollmentDetail, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if actor.Role == models.RoleInstructor {
		if err := s.checkCourseOwnership(ctx, actor, enrollment.CourseID); err != nil {
			return nil, err
		}
	}

	var (
		grade  *float64
		status models.EnrollmentStatus
	)
	if req.Grade == nil {
		status = models.StatusEnrolled
	} else {
		value := *req.Grade
		if value < 0 || value > 20 {
			return nil, appErrors.ErrInvalidGrade
		}
		grade = &value
		status = StatusForGrade(value)
	}

	previous, err := s.repo.UpdateGrade(ctx, id, grade, status)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update grade")
	}

	s.metrics.RecordEnrollmentMutation("grade")

	// Only a transition into or out of ENROLLED moves the course's
	// enrolled count.
	wasEnrolled := previous.Status == models.StatusEnrolled
	isEnrolled := status == models.StatusEnrolled
	if wasEnrolled != isEnrolled {
		if err := s.recount(ctx, previous.CourseID); err != nil {
			return nil, err
		}
		s.invalidateCatalog(ctx)
	}

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// Delete removes an enrollment. Non-admin actors may only drop their own; the
// course's count is recomputed unconditionally afterwards, whatever the
// status was at delete time.
func (s *EnrollmentService) Delete(ctx context.Context, actor models.Identity, id int64) error {
	if actor.Role != models.RoleAdmin {
		enrollment, err := s.repo.FindByID(ctx, id)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		student, err := s.students.FindByEmail(ctx, actor.Email)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.ErrForbidden
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
		}
		if student.ID != enrollment.StudentID {
			return appErrors.ErrForbidden
		}
	}

	courseID, err := s.repo.Delete(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}

	s.metrics.RecordEnrollmentMutation("delete")
	if err := s.recount(ctx, courseID); err != nil {
		return err
	}
	s.invalidateCatalog(ctx)
	return nil
}

// checkCourseOwnership verifies the acting instructor teaches the course.
func (s *EnrollmentService) checkCourseOwnership(ctx context.Context, actor models.Identity, courseID int64) error {
	instructor, err := s.instructors.FindByEmail(ctx, actor.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.ErrForbidden
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve instructor")
	}
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.InstructorID == nil || *course.InstructorID != instructor.ID {
		return appErrors.ErrForbidden
	}
	return nil
}

// recount refreshes the course's enrolled count. The primary write has
// already committed when this runs, so a failure leaves the system in a
// detected-inconsistent state: the caller gets ErrInconsistency and a
// reconcile job replays the recount in the background. The committed write
// is never rolled back over a recount failure.
func (s *EnrollmentService) recount(ctx context.Context, courseID int64) error {
	if _, err := s.repo.RecountEnrolled(ctx, courseID); err != nil {
		s.logger.Error("enrolled recount failed",
			zap.Int64("course_id", courseID),
			zap.Error(err),
		)
		if s.reconciler != nil {
			s.reconciler.EnqueueRecount(courseID)
		}
		return appErrors.Wrap(err, appErrors.ErrInconsistency.Code, appErrors.ErrInconsistency.Status, appErrors.ErrInconsistency.Message)
	}
	return nil
}

func (s *EnrollmentService) invalidateCatalog(ctx context.Context) {
	if s.cache.Enabled() {
		_ = s.cache.Invalidate(ctx, "courses:*")
	}
}

func emptyPagination(filter models.EnrollmentFilter) *models.Pagination {
	return paginationFor(filter, 0)
}

func paginationFor(filter models.EnrollmentFilter, total int) *models.Pagination {
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
