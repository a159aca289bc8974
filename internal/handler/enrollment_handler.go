package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/unireg-api/internal/models"
	"github.com/noah-isme/unireg-api/internal/service"
	"github.com/noah-isme/unireg-api/pkg/response"
)

// EnrollmentHandler exposes enrollment endpoints across the admin,
// instructor and student surfaces.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// List godoc
// @Summary List enrollments visible to the caller
// @Description Admins see all rows, instructors rows of their own courses, students their own rows.
// @Tags Enrollments
// @Produce json
// @Param studentId query int false "Filter by student (admin only)"
// @Param courseId query int false "Filter by course"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		return
	}
	var filter models.EnrollmentFilter
	filter.StudentID = optionalID(c, "studentId")
	filter.CourseID = optionalID(c, "courseId")
	filter.Status = models.EnrollmentStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), identity, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Create godoc
// @Summary Enroll a student in a course (admin override)
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.AdminEnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req service.AdminEnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	enrollment, err := h.enrollments.AdminEnroll(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Enroll godoc
// @Summary Enroll the calling student in a course
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Router /student/enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		return
	}
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), identity, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// SetGrade godoc
// @Summary Assign or clear an enrollment grade
// @Description A null grade clears the grade and reverts the status to ENROLLED. Status is derived from the grade and never accepted directly.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path int true "Enrollment ID"
// @Param payload body service.GradeRequest true "Grade payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/grade [put]
func (h *EnrollmentHandler) SetGrade(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req service.GradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	enrollment, err := h.enrollments.SetGrade(c.Request.Context(), identity, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Delete godoc
// @Summary Delete an enrollment
// @Description Students may only drop their own enrollment; admins may delete any.
// @Tags Enrollments
// @Produce json
// @Param id path int true "Enrollment ID"
// @Success 204
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Delete(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.enrollments.Delete(c.Request.Context(), identity, id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
