package browse

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/acksell/datastack"
	"github.com/acksell/datastack/predicate"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const maxBodyBytes = 4 << 20

// APIHandler serves the JSON API over a stack. Each write request stages its
// changes in a context of its own and commits them straight to the store, so
// a failed request leaves nothing behind for the next one.
type APIHandler struct {
	stack  *datastack.Stack
	logger *slog.Logger
}

// NewAPIHandler returns a handler serving stack.
func NewAPIHandler(stack *datastack.Stack, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		stack:  stack,
		logger: logger,
	}
}

// RegisterRoutes adds the API routes to mux.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/entities/{entity}", h.findObjects)
	mux.HandleFunc("GET /api/entities/{entity}/{id}", h.getObject)
	mux.HandleFunc("PUT /api/entities/{entity}/{id}", h.putObject)
	mux.HandleFunc("DELETE /api/entities/{entity}", h.clearObjects)
	mux.HandleFunc("DELETE /api/entities/{entity}/{id}", h.deleteObject)
}

// ObjectResponse is the JSON form of a datastack.Object.
type ObjectResponse struct {
	Entity     string         `json:"entity"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

func toResponse(obj datastack.Object) ObjectResponse {
	return ObjectResponse{
		Entity:     obj.Entity,
		ID:         obj.ID,
		Attributes: convertItemToJSON(obj.Attributes),
	}
}

// findObjects returns the first match when attr is given, otherwise every
// object of the entity up to limit.
func (h *APIHandler) findObjects(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	q := r.URL.Query()

	if attr := q.Get("attr"); attr != "" {
		obj, err := h.stack.GetEntity(r.Context(), entity, attr, q.Get("value"), h.stack.Main())
		if err != nil {
			h.writeStackError(w, r, err)
			return
		}
		if obj == nil {
			writeError(w, http.StatusNotFound, "no "+entity+" where "+attr+" == "+strconv.Quote(q.Get("value")))
			return
		}
		writeJSON(w, http.StatusOK, toResponse(*obj))
		return
	}

	objs, err := h.stack.Main().Fetch(r.Context(), datastack.FetchRequest{
		Entity: entity,
		Limit:  parseIntParam(r, "limit", 100),
	})
	if err != nil {
		h.writeStackError(w, r, err)
		return
	}
	items := make([]ObjectResponse, len(objs))
	for i, obj := range objs {
		items[i] = toResponse(obj)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (h *APIHandler) getObject(w http.ResponseWriter, r *http.Request) {
	key := datastack.Key{Entity: r.PathValue("entity"), ID: r.PathValue("id")}
	obj, err := h.stack.Main().Get(r.Context(), key)
	if err != nil {
		h.writeStackError(w, r, err)
		return
	}
	if obj == nil {
		writeError(w, http.StatusNotFound, "object not found: "+key.String())
		return
	}
	writeJSON(w, http.StatusOK, toResponse(*obj))
}

// putObject creates or replaces an object from a JSON object of attributes.
func (h *APIHandler) putObject(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
		return
	}
	attrs, err := DecodeItem(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	obj := datastack.Object{
		Entity:     r.PathValue("entity"),
		ID:         r.PathValue("id"),
		Attributes: attrs,
	}
	c := h.stack.Worker().NewChild("http")
	if err := c.Put(obj); err != nil {
		h.writeStackError(w, r, err)
		return
	}
	if err := h.commit(r, c); err != nil {
		h.writeStackError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(obj))
}

func (h *APIHandler) deleteObject(w http.ResponseWriter, r *http.Request) {
	key := datastack.Key{Entity: r.PathValue("entity"), ID: r.PathValue("id")}
	c := h.stack.Worker().NewChild("http")
	if err := c.DeleteKey(key); err != nil {
		h.writeStackError(w, r, err)
		return
	}
	if err := h.commit(r, c); err != nil {
		h.writeStackError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clearObjects deletes every object where attr == value, or every object of
// the entity when attr is absent.
func (h *APIHandler) clearObjects(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	var p predicate.Predicate
	if attr := r.URL.Query().Get("attr"); attr != "" {
		p = h.stack.Predicate(attr, r.URL.Query().Get("value"))
	}

	c := h.stack.Worker().NewChild("http")
	n, err := h.stack.ClearContents(r.Context(), entity, c, p)
	if err != nil {
		h.writeStackError(w, r, err)
		return
	}
	if err := h.commit(r, c); err != nil {
		h.writeStackError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

// commit writes c to the store and drops its changes if that fails.
func (h *APIHandler) commit(r *http.Request, c *datastack.Context) error {
	if err := h.stack.Commit(r.Context(), c); err != nil {
		c.Rollback()
		return err
	}
	return nil
}

func (h *APIHandler) writeStackError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, datastack.ErrInvalidKey), errors.Is(err, predicate.ErrInvalidKeyPath):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, datastack.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}

func convertItemToJSON(item datastack.Item) map[string]any {
	result := make(map[string]any, len(item))
	for k, v := range item {
		result[k] = attributeValueToJSON(v)
	}
	return result
}

// attributeValueToJSON renders binary values as base64 and numbers as JSON
// numbers when they fit, otherwise as their decimal string.
func attributeValueToJSON(av types.AttributeValue) any {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		if i, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(v.Value, 64); err == nil {
			return f
		}
		return v.Value
	case *types.AttributeValueMemberB:
		return base64.StdEncoding.EncodeToString(v.Value)
	case *types.AttributeValueMemberBOOL:
		return v.Value
	case *types.AttributeValueMemberNULL:
		return nil
	case *types.AttributeValueMemberL:
		list := make([]any, len(v.Value))
		for i, elem := range v.Value {
			list[i] = attributeValueToJSON(elem)
		}
		return list
	case *types.AttributeValueMemberM:
		return convertItemToJSON(v.Value)
	case *types.AttributeValueMemberSS:
		return v.Value
	case *types.AttributeValueMemberNS:
		return v.Value
	case *types.AttributeValueMemberBS:
		list := make([]string, len(v.Value))
		for i, b := range v.Value {
			list[i] = base64.StdEncoding.EncodeToString(b)
		}
		return list
	default:
		return nil
	}
}

func convertJSONToItem(data map[string]any) datastack.Item {
	result := make(datastack.Item, len(data))
	for k, v := range data {
		if av := jsonToAttributeValue(v); av != nil {
			result[k] = av
		}
	}
	return result
}

// jsonToAttributeValue expects numbers decoded as json.Number.
func jsonToAttributeValue(v any) types.AttributeValue {
	if v == nil {
		return &types.AttributeValueMemberNULL{Value: true}
	}
	switch val := v.(type) {
	case string:
		return &types.AttributeValueMemberS{Value: val}
	case json.Number:
		return &types.AttributeValueMemberN{Value: val.String()}
	case bool:
		return &types.AttributeValueMemberBOOL{Value: val}
	case []any:
		list := make([]types.AttributeValue, 0, len(val))
		for _, elem := range val {
			if av := jsonToAttributeValue(elem); av != nil {
				list = append(list, av)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	case map[string]any:
		return &types.AttributeValueMemberM{Value: convertJSONToItem(val)}
	default:
		return nil
	}
}

// DecodeItem parses a JSON object into attributes. Numbers keep their
// literal text.
func DecodeItem(data []byte) (datastack.Item, error) {
	var body map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.New("expected a JSON object")
	}
	return convertJSONToItem(body), nil
}

// EncodeObject renders obj the way the API returns it.
func EncodeObject(obj datastack.Object) ([]byte, error) {
	return json.MarshalIndent(toResponse(obj), "", "  ")
}
