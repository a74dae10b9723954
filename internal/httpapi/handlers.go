package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kvreplica/protokv/internal/dispatch"
	"github.com/kvreplica/protokv/internal/kvstate"
)

// defaultDatabase is used when a request carries no explicit database
// query parameter. Database lifecycle/naming is explicitly out of scope
// for this specification (spec §1); this server hosts a single implicit
// database until a real multi-database layer is wired in front of it.
const defaultDatabase = "default"

type handlers struct {
	methods dispatch.StateMethods
	log     *zap.Logger
}

func database(c *gin.Context) string {
	if db := c.Query("database"); db != "" {
		return db
	}
	return defaultDatabase
}

func boolQuery(c *gin.Context, key string) bool {
	return c.Query(key) == "1"
}

func writeOptionsFromQuery(c *gin.Context) dispatch.WriteOptions {
	return dispatch.WriteOptions{
		WaitForApplied: boolQuery(c, "waitForApplied"),
		WaitForSync:    boolQuery(c, "waitForSync"),
		WaitForCommit:  boolQuery(c, "waitForCommit"),
	}
}

func readOptionsFromQuery(c *gin.Context) dispatch.ReadOptions {
	idx, _ := strconv.ParseUint(c.Query("waitForApplied"), 10, 64)
	return dispatch.ReadOptions{
		WaitForApplied: kvstate.LogIndex(idx),
		AllowDirtyRead: boolQuery(c, "allowDirtyRead"),
		ReadFrom:       c.Query("readFrom"),
	}
}

// writeError maps a StateMethods error to the status codes spec §6
// prescribes: NotLeader -> 503, PreconditionFailed -> 412, unknown id ->
// 404, everything else -> 500.
func (h *handlers) writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, kvstate.ErrPreconditionFailed):
		c.JSON(http.StatusPreconditionFailed, gin.H{"message": "precondition failed"})
	case errors.Is(err, kvstate.ErrNotLeader), errors.Is(err, kvstate.ErrNotFollower), errors.Is(err, kvstate.ErrResigned):
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "not leader"})
	case errors.Is(err, dispatch.ErrUnknownState):
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown log id"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
	}
}

// insert handles POST /_api/prototype-state/{id}/insert.
func (h *handlers) insert(c *gin.Context) {
	logID := c.Param("id")
	var body map[string]string
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}

	index, err := h.methods.Insert(c.Request.Context(), database(c), logID, body, writeOptionsFromQuery(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": index})
}

// removeOne handles DELETE /_api/prototype-state/{id}/entry/{key}.
func (h *handlers) removeOne(c *gin.Context) {
	logID := c.Param("id")
	key := c.Param("key")

	index, err := h.methods.Remove(c.Request.Context(), database(c), logID, []string{key}, writeOptionsFromQuery(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": index})
}

// removeMulti handles DELETE /_api/prototype-state/{id}/multi-remove.
func (h *handlers) removeMulti(c *gin.Context) {
	logID := c.Param("id")
	var keys []string
	if err := c.ShouldBindJSON(&keys); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}

	index, err := h.methods.Remove(c.Request.Context(), database(c), logID, keys, writeOptionsFromQuery(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": index})
}

// cmpExEntry is the per-key value of the cmp-ex endpoint's wire shape
// `{ key: { oldValue, newValue } }` (spec §6).
type cmpExEntry struct {
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
}

// compareExchange handles PUT /_api/prototype-state/{id}/cmp-ex.
func (h *handlers) compareExchange(c *gin.Context) {
	logID := c.Param("id")
	var body map[string]cmpExEntry
	if err := c.ShouldBindJSON(&body); err != nil || len(body) != 1 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body: exactly one key required"})
		return
	}

	var key string
	var entry cmpExEntry
	for k, v := range body {
		key, entry = k, v
	}

	index, err := h.methods.CompareExchange(c.Request.Context(), database(c), logID, key, entry.OldValue, entry.NewValue, writeOptionsFromQuery(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": index})
}

// getMulti handles POST /_api/prototype-state/{id}/multi-get.
func (h *handlers) getMulti(c *gin.Context) {
	logID := c.Param("id")
	var keys []string
	if err := c.ShouldBindJSON(&keys); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}

	result, err := h.methods.GetMulti(c.Request.Context(), database(c), logID, keys, readOptionsFromQuery(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// snapshot handles GET /_api/prototype-state/{id}/snapshot.
func (h *handlers) snapshot(c *gin.Context) {
	logID := c.Param("id")

	opts := readOptionsFromQuery(c)
	if raw := c.Query("waitForIndex"); raw != "" {
		idx, _ := strconv.ParseUint(raw, 10, 64)
		opts.WaitForApplied = kvstate.LogIndex(idx)
	}

	result, err := h.methods.GetSnapshot(c.Request.Context(), database(c), logID, opts)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// waitForApplied handles GET /_api/prototype-state/{id}/wait-for-applied/{idx},
// blocking server-side until satisfied and responding 204 (spec §6).
func (h *handlers) waitForApplied(c *gin.Context) {
	logID := c.Param("id")
	idx, err := strconv.ParseUint(c.Param("idx"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid index"})
		return
	}

	if err := h.methods.WaitForApplied(c.Request.Context(), database(c), logID, kvstate.LogIndex(idx)); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// status handles GET /_api/prototype-state/{id}.
func (h *handlers) status(c *gin.Context) {
	logID := c.Param("id")

	idx, role, err := h.methods.Status(c.Request.Context(), database(c), logID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": gin.H{"id": idx, "role": role}})
}
