package catalog

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type catalogHandler struct {
	catalog *Catalog
}

func NewCatalogHandler(c *Catalog) *catalogHandler {
	return &catalogHandler{catalog: c}
}

func (h *catalogHandler) ListHandler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"scripts": h.catalog.Summaries()})
}
