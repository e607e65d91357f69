package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	model2 "github.com/fabrii9/remote-receipt-import/api/model"
	"github.com/fabrii9/remote-receipt-import/internal/apierror"
)

// CreateImport accepts a multipart payment file upload and queues it for
// processing. The source form field names the partner feed the file came from.
func (a Api) CreateImport(c *gin.Context) {
	source := c.PostForm("source")
	if source == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source is required"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed"})
		return
	}
	defer file.Close()

	fileName := header.Filename

	batch, err := a.rri.ImportPayments(c.Request.Context(), source, file, fileName)
	if err != nil {
		logrus.Error(err)
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"import_id": batch.ImportID, "record_count": batch.TotalItems, "source": batch.Source})
}

// CreateInlineImport queues payment rows posted directly as JSON, for feeds
// that push programmatically rather than dropping files.
func (a Api) CreateInlineImport(c *gin.Context) {
	var req model2.CreateInlineImport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := req.ValidateCreateInlineImport(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reader, fileName, err := req.ToPaymentFile()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	batch, err := a.rri.ImportPayments(c.Request.Context(), req.Source, reader, fileName)
	if err != nil {
		logrus.Error(err)
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"import_id": batch.ImportID, "record_count": batch.TotalItems, "source": batch.Source})
}

func (a Api) GetAllImports(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	if HasFilters(c) {
		filters, parseErrs := ParseFiltersFromContext(c, nil)
		if len(parseErrs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"errors": parseErrs})
			return
		}

		batches, total, err := a.rri.GetImportBatchesFiltered(c.Request.Context(), filters, ParseQueryOptions(c), limit, offset)
		if err != nil {
			c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, FilterResponse{Data: batches, TotalCount: total})
		return
	}

	batches, err := a.rri.GetAllImportBatches(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, batches)
}

func (a Api) GetImport(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	batch, err := a.rri.GetImportBatch(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, batch)
}

func (a Api) GetImportStats(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	stats, err := a.rri.GetImportStats(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (a Api) PauseImport(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	batch, err := a.rri.PauseImport(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, batch)
}

func (a Api) ResumeImport(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	batch, err := a.rri.ResumeImport(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, batch)
}

func (a Api) CancelImport(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	batch, err := a.rri.CancelImport(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, batch)
}

// ExportImportResults streams the per-row outcome report as a CSV attachment.
func (a Api) ExportImportResults(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	if _, err := a.rri.GetImportBatch(c.Request.Context(), id); err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s-results.csv", id))

	if err := a.rri.ExportResults(c.Request.Context(), id, c.Writer); err != nil {
		logrus.Error(err)
		return
	}
}
