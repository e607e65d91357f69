package api

import (
	"fmt"
	"net/http"

	"github.com/typesense/typesense-go/typesense/api"

	"github.com/fabrii9/remote-receipt-import/config"

	"github.com/fabrii9/remote-receipt-import/api/middleware"

	rri "github.com/fabrii9/remote-receipt-import"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	rri    *rri.Rri
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/imports", a.CreateImport)
	router.POST("/imports/inline", a.CreateInlineImport)
	router.GET("/imports", a.GetAllImports)
	router.GET("/imports/:id", a.GetImport)
	router.GET("/imports/:id/stats", a.GetImportStats)
	router.GET("/imports/:id/items", a.GetImportItems)
	router.POST("/imports/:id/items/search", a.SearchImportItems)
	router.GET("/imports/:id/errors", a.GetImportErrors)
	router.GET("/imports/:id/export", a.ExportImportResults)
	router.POST("/imports/:id/pause", a.PauseImport)
	router.POST("/imports/:id/resume", a.ResumeImport)
	router.POST("/imports/:id/cancel", a.CancelImport)

	router.POST("/items/:id/requeue", a.RequeueImportItem)

	router.POST("/recover", a.RecoverStaleItems)
	router.GET("/flow-state", a.GetFlowState)

	router.POST("/hooks", a.RegisterHook)
	router.GET("/hooks", a.ListHooks)
	router.GET("/hooks/:id", a.GetHook)
	router.PUT("/hooks/:id", a.UpdateHook)
	router.DELETE("/hooks/:id", a.DeleteHook)

	router.GET("/backup", a.BackupDB)
	router.GET("/backup-s3", a.BackupDBS3)

	router.POST("/search/:collection", a.Search)
	router.POST("/multi-search", a.MultiSearch)

	router.POST("/reindex", a.StartReindex)
	router.GET("/reindex", a.GetReindexProgress)
	return a.router
}

func NewAPI(b *rri.Rri) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware("RRI"))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	r.POST("/webhook", func(c *gin.Context) {
		var payload map[string]interface{}
		err := c.Bind(&payload)
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Println(payload)
		c.JSON(200, "webhook received")
	})

	return &Api{rri: b, router: r}
}

func (a Api) Search(c *gin.Context) {
	collection, passed := c.Params.Get("collection")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "collection is required. pass id in the route /:collection"})
		return
	}

	var query api.SearchCollectionParams
	err := c.BindJSON(&query)
	if err != nil {
		return
	}

	resp, err := a.rri.Search(collection, &query)

	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) MultiSearch(c *gin.Context) {
	var searches api.MultiSearchSearchesParameter
	err := c.BindJSON(&searches)
	if err != nil {
		return
	}

	resp, err := a.rri.MultiSearch(&searches)

	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
