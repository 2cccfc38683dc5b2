package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/labsage/backend/internal/services"
)

type TaskController struct {
	tasks *services.TaskSet
}

func NewTaskController(tasks *services.TaskSet) *TaskController {
	return &TaskController{tasks: tasks}
}

func (tc *TaskController) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": tc.tasks.Statuses()})
}

// RunTask runs one cycle of the named task now and waits for it.
func (tc *TaskController) RunTask(c *gin.Context) {
	task, ok := tc.tasks.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	err := task.RunNow(c.Request.Context())
	if errors.Is(err, services.ErrCycleRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": "A cycle is already running"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "Task cycle failed",
			"status": task.Status(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": task.Status()})
}
