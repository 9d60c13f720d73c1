package stubservice

import (
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine for the stub service. pool may be nil, in
// which case analyses run on the request goroutine.
func NewRouter(store *Store, apiPrefix string, maxUploadSize int64, pool *WorkerPool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	// Multipart parts above this stay on disk instead of memory
	router.MaxMultipartMemory = 16 << 20

	NewHandler(store, maxUploadSize, pool).RegisterRoutes(router, apiPrefix)
	return router
}
