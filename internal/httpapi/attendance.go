package httpapi

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"rollbook/internal/interchange"
	"rollbook/internal/queue"
	"rollbook/internal/records"
)

func (s *server) listAttendance(c *gin.Context) {
	f := records.AttendanceFilter{Group: c.Query("group")}
	var ok bool
	if f.From, ok = optionalDate(c, "from"); !ok {
		return
	}
	if f.To, ok = optionalDate(c, "to"); !ok {
		return
	}

	recs, err := s.store.LoadAttendance(c.Request.Context(), !fresh(c), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": recs})
}

// optionalDate parses query parameter name; absent means zero.
func optionalDate(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	d, ok := records.ParseDate(raw)
	if !ok {
		badRequest(c, "invalid "+name+" date")
		return time.Time{}, false
	}
	return d, true
}

func (s *server) existingAttendance(c *gin.Context) {
	d, ok := records.ParseDate(c.Query("date"))
	if !ok {
		badRequest(c, "date is required")
		return
	}
	names, err := s.store.GetExistingAttendance(c.Request.Context(), d, c.Query("group"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"names": names.Sorted()})
}

func (s *server) saveAttendance(c *gin.Context) {
	var req struct {
		Records []records.Attendance `json:"records" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if c.Query("async") == "1" && s.queue != nil {
		msg, err := queue.NewMessage(queue.TypeAttendanceMark, req.Records)
		if err != nil {
			writeError(c, err)
			return
		}
		if err := s.queue.Publish(c.Request.Context(), msg); err != nil {
			log.Printf("httpapi: queue publish failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable", "kind": "connection"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message_id": msg.ID, "records": len(req.Records)})
		return
	}

	res, err := s.store.SaveAttendance(c.Request.Context(), req.Records)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type changesRequest struct {
	Date             *string `json:"date"`
	MembershipNumber *string `json:"membership_number"`
	FullName         *string `json:"full_name"`
	Group            *string `json:"group"`
}

func (s *server) updateAttendance(c *gin.Context) {
	var req struct {
		Key     *records.AttendanceKey `json:"key" binding:"required"`
		Changes changesRequest         `json:"changes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	changes := records.AttendanceChanges{
		MembershipNumber: req.Changes.MembershipNumber,
		FullName:         req.Changes.FullName,
		Group:            req.Changes.Group,
	}
	if req.Changes.Date != nil {
		d, ok := records.ParseDate(*req.Changes.Date)
		if !ok {
			badRequest(c, "invalid date in changes")
			return
		}
		changes.Date = &d
	}
	updated, err := s.store.UpdateAttendanceRecord(c.Request.Context(), *req.Key, changes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *server) deleteAttendance(c *gin.Context) {
	d, ok := records.ParseDate(c.Query("date"))
	if !ok {
		badRequest(c, "date is required")
		return
	}
	key := records.NewAttendanceKey(d, c.Query("full_name"), c.Query("group"))
	if err := s.store.DeleteAttendanceRecord(c.Request.Context(), key); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) exportAttendance(c *gin.Context) {
	recs, err := s.store.LoadAttendance(c.Request.Context(), !fresh(c), records.AttendanceFilter{})
	if err != nil {
		writeError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := interchange.WriteAttendance(&buf, recs); err != nil {
		writeError(c, err)
		return
	}
	sendCSV(c, "attendance.csv", buf.Bytes())
}

func (s *server) importAttendance(c *gin.Context) {
	body, ok := csvBody(c)
	if !ok {
		return
	}
	defer body.Close()
	recs, err := interchange.ReadAttendance(body)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := s.store.SaveAttendance(c.Request.Context(), recs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// csvBody returns the uploaded file of a multipart form or the raw body.
func csvBody(c *gin.Context) (io.ReadCloser, bool) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		fh, err := c.FormFile("file")
		if err != nil {
			badRequest(c, "file field required")
			return nil, false
		}
		f, err := fh.Open()
		if err != nil {
			badRequest(c, "cannot read upload")
			return nil, false
		}
		return f, true
	}
	return c.Request.Body, true
}

func sendCSV(c *gin.Context, name string, b []byte) {
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", b)
}
