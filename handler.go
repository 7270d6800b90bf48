package workshop

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/airheartdev/workshop/game"
	"github.com/go-chi/chi/v5"
)

const applicationJSON = "application/json"

type (
	TodoResponse struct {
		Todo Todo `json:"todo"`
		Txid Txid `json:"txid"`
	}

	TxidResponse struct {
		Txid Txid `json:"txid"`
	}

	RowResponse struct {
		Row  Row  `json:"row"`
		Txid Txid `json:"txid"`
	}

	TablesResponse struct {
		Tables []TableMetadata `json:"tables"`
	}

	PollResponse struct {
		Poll Poll `json:"poll"`
		Txid Txid `json:"txid"`
	}

	VoteResponse struct {
		Vote PollVote `json:"vote"`
		Txid Txid     `json:"txid"`
	}

	ErrorResponse struct {
		Message string `json:"message"`
		Error   string `json:"error,omitempty"`
	}
)

func (s *Server) HandleCreateTodo(w http.ResponseWriter, r *http.Request) {
	in := new(NewTodo)
	if !s.decode(w, r, in) {
		return
	}

	todo, txid, err := s.backend.CreateTodo(r.Context(), *in)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Failed to create todo", err)
		return
	}

	s.options.notifier.Publish(TableTodos, txid)
	writeJSON(w, http.StatusOK, TodoResponse{Todo: todo, Txid: txid})
}

func (s *Server) HandleUpdateTodo(w http.ResponseWriter, r *http.Request) {
	id, ok := s.intParam(w, r, "id")
	if !ok {
		return
	}
	patch := new(TodoPatch)
	if !s.decode(w, r, patch) {
		return
	}

	todo, txid, err := s.backend.UpdateTodo(r.Context(), id, *patch)
	if errors.Is(err, ErrNotFound) {
		s.fail(w, http.StatusNotFound, "Todo not found", nil)
		return
	}
	if err != nil {
		s.options.logger.Errorf("Update todo %d: %s", id, err)
		s.fail(w, http.StatusBadRequest, "Failed to update todo", err)
		return
	}

	s.options.notifier.Publish(TableTodos, txid)
	writeJSON(w, http.StatusOK, TodoResponse{Todo: todo, Txid: txid})
}

func (s *Server) HandleDeleteTodo(w http.ResponseWriter, r *http.Request) {
	id, ok := s.intParam(w, r, "id")
	if !ok {
		return
	}

	txid, err := s.backend.DeleteTodo(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		s.fail(w, http.StatusNotFound, "Todo not found", nil)
		return
	}
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Failed to delete todo", nil)
		return
	}

	s.options.notifier.Publish(TableTodos, txid)
	writeJSON(w, http.StatusOK, TxidResponse{Txid: txid})
}

// HandleUpdateRow updates a single column of any replicated table. Only the
// first key of the body is used, and it must be an updatable column.
func (s *Server) HandleUpdateRow(w http.ResponseWriter, r *http.Request) {
	table, err := LookupTable(chi.URLParam(r, "table"))
	if err != nil {
		s.fail(w, http.StatusNotFound, "Table not found", nil)
		return
	}
	id, err := table.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	if !requireJSON(w, r) {
		return
	}

	column, raw, ignored, err := firstColumn(r.Body)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	if len(ignored) > 0 {
		s.options.logger.Warnf("Update %s/%v: ignoring extra columns %v", table.Name, id, ignored)
	}

	value, err := table.ColumnValue(column, raw)
	if errors.Is(err, ErrUnknownColumn) {
		// A missing row is reported before a bad column.
		_, err := s.backend.GetRow(r.Context(), table, id)
		if errors.Is(err, ErrNotFound) {
			s.fail(w, http.StatusNotFound, "Row not found", nil)
			return
		}
		if err != nil {
			s.options.logger.Errorf("Update %s/%v: %s", table.Name, id, err)
			s.fail(w, http.StatusInternalServerError, "Failed to update row", err)
			return
		}
		s.fail(w, http.StatusBadRequest, fmt.Sprintf("Column %q cannot be updated", column), nil)
		return
	}
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	row, txid, err := s.backend.UpdateRow(r.Context(), table, id, column, value)
	if errors.Is(err, ErrNotFound) {
		s.fail(w, http.StatusNotFound, "Row not found", nil)
		return
	}
	if err != nil {
		s.options.logger.Errorf("Update %s/%v: %s", table.Name, id, err)
		s.fail(w, http.StatusBadRequest, "Failed to update row", err)
		return
	}

	s.options.notifier.Publish(table.Name, txid)
	writeJSON(w, http.StatusOK, RowResponse{Row: row, Txid: txid})
}

func (s *Server) HandleGetRow(w http.ResponseWriter, r *http.Request) {
	table, err := LookupTable(chi.URLParam(r, "table"))
	if err != nil {
		s.fail(w, http.StatusNotFound, "Table not found", nil)
		return
	}
	id, err := table.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	row, err := s.backend.GetRow(r.Context(), table, id)
	if errors.Is(err, ErrNotFound) {
		s.fail(w, http.StatusNotFound, "Row not found", nil)
		return
	}
	if err != nil {
		s.options.logger.Errorf("Get %s/%v: %s", table.Name, id, err)
		s.fail(w, http.StatusInternalServerError, "Failed to fetch row", err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) HandleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.backend.ListTables(r.Context())
	if err != nil {
		s.options.logger.Errorf("List tables: %s", err)
		s.fail(w, http.StatusInternalServerError, "Failed to fetch tables", nil)
		return
	}
	writeJSON(w, http.StatusOK, TablesResponse{Tables: tables})
}

func (s *Server) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	in := new(NewUser)
	if !s.decode(w, r, in) {
		return
	}

	user, err := s.backend.CreateUser(r.Context(), in.Name)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	in := new(UserPatch)
	if !s.decode(w, r, in) {
		return
	}

	user, err := s.backend.UpdateUser(r.Context(), in.ID, in.Name)
	if errors.Is(err, ErrNotFound) {
		s.fail(w, http.StatusNotFound, "User not found", nil)
		return
	}
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Failed to update user", nil)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) HandleToggleCheckbox(w http.ResponseWriter, r *http.Request) {
	id, ok := s.intParam(w, r, "id")
	if !ok {
		return
	}
	in := new(ToggleCheckbox)
	if !s.decode(w, r, in) {
		return
	}

	_, txid, err := s.backend.ToggleCheckbox(r.Context(), id, in.UserID)
	if errors.Is(err, ErrNotFound) {
		s.fail(w, http.StatusNotFound, "Checkbox not found", nil)
		return
	}
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Failed to toggle checkbox", err)
		return
	}

	s.options.notifier.Publish(TableCheckboxes, txid)
	writeJSON(w, http.StatusOK, TxidResponse{Txid: txid})
}

func (s *Server) HandleCreatePoll(w http.ResponseWriter, r *http.Request) {
	in := new(NewPoll)
	if !s.decode(w, r, in) {
		return
	}

	poll, txid, err := s.backend.CreatePoll(r.Context(), *in)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Failed to create poll", err)
		return
	}

	s.options.notifier.Publish(TablePolls, txid)
	writeJSON(w, http.StatusOK, PollResponse{Poll: poll, Txid: txid})
}

func (s *Server) HandleVote(w http.ResponseWriter, r *http.Request) {
	pollID, ok := s.intParam(w, r, "id")
	if !ok {
		return
	}
	in := new(NewVote)
	if !s.decode(w, r, in) {
		return
	}
	in.PollID = pollID

	vote, txid, err := s.backend.CreateVote(r.Context(), *in)
	if errors.Is(err, ErrNotFound) {
		s.fail(w, http.StatusNotFound, "Poll not found", nil)
		return
	}
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Failed to vote", err)
		return
	}

	s.options.notifier.Publish(TablePollVotes, txid)
	writeJSON(w, http.StatusOK, VoteResponse{Vote: vote, Txid: txid})
}

func (s *Server) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	boxes, err := s.backend.ListCheckboxes(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "Failed to compute leaderboard", err)
		return
	}
	users, err := s.backend.ListUsers(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "Failed to compute leaderboard", err)
		return
	}

	writeJSON(w, http.StatusOK, game.Compute(GameBoxes(boxes), UserNames(users)))
}

func (s *Server) HandleShape(w http.ResponseWriter, r *http.Request) {
	table, err := LookupTable(chi.URLParam(r, "table"))
	if err != nil {
		s.fail(w, http.StatusNotFound, "Shape not found", nil)
		return
	}
	if s.options.shapes == nil {
		s.fail(w, http.StatusServiceUnavailable, "Shape streaming is not configured", nil)
		return
	}
	s.options.shapes(table.Name).ServeHTTP(w, r)
}

// GameBoxes converts checkbox rows to the scoring package's boxes.
func GameBoxes(checkboxes []Checkbox) []game.Box {
	boxes := make([]game.Box, 0, len(checkboxes))
	for _, c := range checkboxes {
		box := game.Box{ID: c.ID, Checked: c.Checked}
		if c.UserID != nil {
			box.Owner = c.UserID.String()
		}
		boxes = append(boxes, box)
	}
	return boxes
}

func UserNames(users []User) map[string]string {
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID.String()] = u.Name
	}
	return names
}

type validator interface {
	Validate() error
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v validator) bool {
	if !requireJSON(w, r) {
		return false
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	if err := v.Validate(); err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}

func (s *Server) intParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid request", invalid(name, "must be an integer"))
		return 0, false
	}
	return id, true
}

func (s *Server) fail(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}

func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != applicationJSON {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "Expected a JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", applicationJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// firstColumn reads a JSON object and returns its first key in document
// order together with the raw value. Any further keys are returned in ignored.
func firstColumn(body io.Reader) (column string, raw json.RawMessage, ignored []string, err error) {
	dec := json.NewDecoder(body)

	tok, err := dec.Token()
	if err != nil {
		return "", nil, nil, invalid("", "body must be a JSON object")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return "", nil, nil, invalid("", "body must be a JSON object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return "", nil, nil, invalid("", "malformed JSON object")
		}
		key, _ := tok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return "", nil, nil, invalid(key, "malformed value")
		}

		if column == "" {
			column, raw = key, value
			continue
		}
		ignored = append(ignored, key)
	}

	if column == "" {
		return "", nil, nil, invalid("", "exactly one column is required")
	}
	return column, raw, ignored, nil
}
