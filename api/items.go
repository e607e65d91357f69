package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fabrii9/remote-receipt-import/internal/apierror"
)

// GetImportItems pages through the queue items of an import. A plain status
// query param narrows to one state; field_operator params switch the endpoint
// to advanced filtering.
func (a Api) GetImportItems(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	if HasFilters(c) {
		filters, parseErrs := ParseFiltersFromContext(c, nil)
		if len(parseErrs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"errors": parseErrs})
			return
		}

		items, total, err := a.rri.ListImportItemsFiltered(c.Request.Context(), id, filters, ParseQueryOptions(c), limit, offset)
		if err != nil {
			c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, FilterResponse{Data: items, TotalCount: total})
		return
	}

	items, err := a.rri.ListImportItems(c.Request.Context(), id, c.Query("status"), limit, offset)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, items)
}

// SearchImportItems is the JSON body variant of item filtering, for clients
// whose filter sets outgrow query strings.
func (a Api) SearchImportItems(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	filters, opts, limit, offset, err := ParseFiltersFromBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items, total, err := a.rri.ListImportItemsFiltered(c.Request.Context(), id, filters, opts, limit, offset)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, FilterResponse{Data: items, TotalCount: total})
}

func (a Api) GetImportErrors(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	items, err := a.rri.GetRecentErrors(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, items)
}

// RequeueImportItem puts a failed item back in line with a fresh attempt
// budget and restarts its import if that import had already settled.
func (a Api) RequeueImportItem(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	item, err := a.rri.RequeueItem(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, item)
}
