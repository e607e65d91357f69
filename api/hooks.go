package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fabrii9/remote-receipt-import/internal/apierror"
	"github.com/fabrii9/remote-receipt-import/internal/hooks"
)

// RegisterHook creates a pre- or post-import hook from the posted definition.
func (a Api) RegisterHook(c *gin.Context) {
	var hook hooks.Hook
	if err := c.ShouldBindJSON(&hook); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.rri.Hooks.RegisterHook(c.Request.Context(), &hook); err != nil {
		logrus.Error(err)
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, hook)
}

// UpdateHook replaces the definition of an existing hook.
func (a Api) UpdateHook(c *gin.Context) {
	var hook hooks.Hook
	if err := c.ShouldBindJSON(&hook); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.rri.Hooks.UpdateHook(c.Request.Context(), c.Param("id"), &hook); err != nil {
		logrus.Error(err)
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, hook)
}

func (a Api) GetHook(c *gin.Context) {
	hook, err := a.rri.Hooks.GetHook(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, hook)
}

// ListHooks returns the registered hooks, optionally narrowed by the type
// query parameter (pre or post).
func (a Api) ListHooks(c *gin.Context) {
	registered, err := a.rri.Hooks.ListHooks(c.Request.Context(), hooks.HookType(c.Query("type")))
	if err != nil {
		logrus.Error(err)
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, registered)
}

func (a Api) DeleteHook(c *gin.Context) {
	if err := a.rri.Hooks.DeleteHook(c.Request.Context(), c.Param("id")); err != nil {
		logrus.Error(err)
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "hook deleted"})
}
