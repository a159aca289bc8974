package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/unireg-api/internal/handler"
	"github.com/noah-isme/unireg-api/internal/middleware"
	"github.com/noah-isme/unireg-api/internal/models"
	"github.com/noah-isme/unireg-api/internal/service"
	"github.com/noah-isme/unireg-api/pkg/config"
	"github.com/noah-isme/unireg-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/unireg-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/unireg-api/pkg/middleware/requestid"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Students    *handler.StudentHandler
	Instructors *handler.InstructorHandler
	Courses     *handler.CourseHandler
	Enrollments *handler.EnrollmentHandler
	Departments *handler.DepartmentHandler
	Metrics     *handler.MetricsHandler
}

// Setup builds the Gin engine with all route groups. Every business route
// runs behind the identity middleware; role guards narrow each surface.
func Setup(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService, handlers *Handlers) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", handlers.Metrics.Health)
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", handlers.Metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.Identity())

	// Admin surface: full CRUD over every entity plus override enrollment.
	admin := api.Group("")
	admin.Use(middleware.RequireRoles(models.RoleAdmin), middleware.Audit(logr))
	{
		admin.GET("/students", handlers.Students.List)
		admin.POST("/students", handlers.Students.Create)
		admin.GET("/students/:id", handlers.Students.Get)
		admin.PUT("/students/:id", handlers.Students.Update)
		admin.DELETE("/students/:id", handlers.Students.Delete)

		admin.GET("/instructors", handlers.Instructors.List)
		admin.POST("/instructors", handlers.Instructors.Create)
		admin.GET("/instructors/:id", handlers.Instructors.Get)
		admin.PUT("/instructors/:id", handlers.Instructors.Update)
		admin.DELETE("/instructors/:id", handlers.Instructors.Delete)

		admin.GET("/courses", handlers.Courses.List)
		admin.POST("/courses", handlers.Courses.Create)
		admin.GET("/courses/:id", handlers.Courses.Get)
		admin.PUT("/courses/:id", handlers.Courses.Update)
		admin.DELETE("/courses/:id", handlers.Courses.Delete)

		admin.GET("/enrollments", handlers.Enrollments.List)
		admin.POST("/enrollments", handlers.Enrollments.Create)
		admin.PUT("/enrollments/:id/grade", handlers.Enrollments.SetGrade)
		admin.DELETE("/enrollments/:id", handlers.Enrollments.Delete)

		admin.GET("/departments", handlers.Departments.List)
	}

	// Instructor surface: own profile and courses, grading scoped to own
	// courses by the service layer.
	instructor := api.Group("/instructor")
	instructor.Use(middleware.RequireRoles(models.RoleInstructor, models.RoleAdmin))
	{
		instructor.GET("/profile", handlers.Instructors.MyProfile)
		instructor.GET("/courses", handlers.Instructors.MyCourses)
		instructor.GET("/enrollments", handlers.Enrollments.List)
		instructor.PUT("/enrollments/:id/grade", handlers.Enrollments.SetGrade)
	}

	// Student surface: own profile, own enrollments, self enroll and drop.
	student := api.Group("/student")
	student.Use(middleware.RequireRoles(models.RoleStudent, models.RoleInstructor, models.RoleAdmin))
	{
		student.GET("/profile", handlers.Students.MyProfile)
		student.GET("/enrollments", handlers.Enrollments.List)
		student.POST("/enrollments", handlers.Enrollments.Enroll)
		student.DELETE("/enrollments/:id", handlers.Enrollments.Delete)
		student.GET("/courses/available", handlers.Courses.ListAvailable)
	}

	return r
}
