package api

import (
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
)

// formFile opens the "file" part and writes the 400 itself when it is missing
func formFile(c *gin.Context) (multipart.File, *multipart.FileHeader, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "multipart field \"file\" is required")
		return nil, nil, false
	}
	file, err := header.Open()
	if err != nil {
		badRequest(c, "failed to read upload: "+err.Error())
		return nil, nil, false
	}
	return file, header, true
}
