package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classlog/internal/cloudinary"
	"classlog/internal/crud"
	"classlog/internal/relstore"
)

const maxAvatarBytes = 5 << 20

// maxAvatarJSONBytes leaves room for the data URL prefix and JSON framing around the encoded image.
const maxAvatarJSONBytes = (maxAvatarBytes+2)/3*4 + 4<<10

// uploadAvatar stores a multipart "file" or a JSON {"data": "<data URL>"} image on Cloudinary and
// points the profile at it.
func (s *Server) uploadAvatar(c *gin.Context) {
	if s.cloud == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if !recordID(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}

	profiles, err := s.store.Select(ctx, relstore.Query{Table: "profiles", Columns: []string{"id"}}.Where("id", id))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if len(profiles) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}

	publicID := "profile-" + id
	var result *cloudinary.UploadResult
	switch {
	case strings.Contains(c.ContentType(), "multipart/form-data"):
		file, header, ferr := c.Request.FormFile("file")
		if ferr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		data, ferr := io.ReadAll(io.LimitReader(file, maxAvatarBytes+1))
		if ferr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
			return
		}
		if len(data) > maxAvatarBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		result, err = s.cloud.UploadBytes(ctx, data, header.Filename, publicID)

	default:
		var body struct {
			Data string `json:"data" validate:"required"`
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxAvatarJSONBytes)
		if !s.bindJSON(c, &body) {
			return
		}
		result, err = s.cloud.UploadBase64(ctx, body.Data, publicID)
	}
	if err != nil {
		s.log.Error("cloudinary upload failed", zap.String("profile", id), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed", "notification": crud.Failure("image upload failed")})
		return
	}

	if _, err := s.store.Update(ctx, "profiles", id, relstore.Row{"avatar_url": result.SecureURL}); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "notification": crud.Failure(err.Error())})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":          result.SecureURL,
		"public_id":    result.PublicID,
		"notification": crud.Success("Avatar updated successfully"),
	})
}
