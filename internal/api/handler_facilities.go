package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"dotori-monitor-backend/internal/model"
)

// facilityStatusResponse is the flattened structure for the API response.
type facilityStatusResponse struct {
	model.Facility
	Vacancy        int        `json:"vacancy"`
	LastSnapshotAt *time.Time `json:"lastSnapshotAt"`
}

// GetFacilityStatus handles the GET /api/facilities/{facility_id}/status request.
func GetFacilityStatus(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		facilityID, err := strconv.ParseInt(c.Param("facility_id"), 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid facility ID"})
			return
		}

		var facility model.Facility
		if err := db.First(&facility, facilityID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Facility not found"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve facility"})
			return
		}

		resp := facilityStatusResponse{
			Facility: facility,
			Vacancy:  facility.Vacancy(),
		}

		var snapshot model.FacilitySnapshot
		err = db.Where("facility_id = ?", facilityID).
			Order("snapshot_at DESC").
			First(&snapshot).Error
		if err == nil {
			resp.LastSnapshotAt = &snapshot.SnapshotAt
		}

		c.JSON(http.StatusOK, resp)
	}
}
