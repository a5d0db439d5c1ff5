package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/roach88/trainflow/internal/conflict"
	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/visibility"
)

// mutationStatus picks 202 for queued mutations.
func mutationStatus(queued bool, online int) int {
	if queued {
		return http.StatusAccepted
	}
	return online
}

func (s *Server) createRequest(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var draft domain.TrainingRequest
	if err := decodeBody(r, &draft); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.CreateRequest(r.Context(), actor, draft)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, mutationStatus(res.Queued, http.StatusCreated), res)
}

// listRequests reads the viewer from ?role=&user=&spec=, falling back to
// the actor headers. spec is a comma separated list of profile labels.
func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	viewer := visibility.Viewer{
		UserID: q.Get("user"),
		Role:   domain.Role(q.Get("role")),
	}
	if viewer.Role == "" {
		actor, err := actorFrom(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		viewer.UserID, viewer.Role = actor.UserID, actor.Role
	}
	if !viewer.Role.Valid() {
		s.writeError(w, r, domain.NewError(domain.KindValidation, "unknown role "+string(viewer.Role)))
		return
	}
	if spec := q.Get("spec"); spec != "" {
		viewer.Specializations = domain.NewSpecSet(strings.Split(spec, ",")...)
	}

	reqs, err := s.svc.RequestsVisibleTo(r.Context(), viewer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []domain.TrainingRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.svc.Request(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) editRequest(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var patch domain.ContentPatch
	if err := decodeBody(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.EditRequest(r.Context(), mux.Vars(r)["id"], actor, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, mutationStatus(res.Queued, http.StatusOK), res)
}

type transitionBody struct {
	Target  domain.Status `json:"target"`
	Comment string        `json:"comment,omitempty"`
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body transitionBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !body.Target.Valid() {
		s.writeError(w, r, domain.NewError(domain.KindValidation, "unknown target status "+string(body.Target)))
		return
	}
	res, err := s.svc.SubmitTransition(r.Context(), mux.Vars(r)["id"], body.Target, actor, body.Comment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, mutationStatus(res.Queued, http.StatusOK), res)
}

type applyBody struct {
	Message string `json:"message,omitempty"`
}

func (s *Server) apply(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if actor.Role != domain.RoleTrainer || actor.UserID == "" {
		s.writeError(w, r, domain.NewError(domain.KindUnauthorized, "only trainers may apply"))
		return
	}
	var body applyBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.ApplyAsTrainer(r.Context(), mux.Vars(r)["id"], actor.UserID, body.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, mutationStatus(res.Queued, http.StatusCreated), res)
}

func (s *Server) listApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := s.svc.Applications(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if apps == nil {
		apps = []domain.TrainerApplication{}
	}
	writeJSON(w, http.StatusOK, apps)
}

// recommendation reports whether assisted selection may be offered.
func (s *Server) recommendation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := s.svc.CanRecommend(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": id, "can_recommend": ok})
}

type selectionBody struct {
	TrainerID string `json:"trainer_id"`
}

func (s *Server) selectTrainer(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body selectionBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	sel, err := s.svc.SelectTrainer(r.Context(), mux.Vars(r)["id"], body.TrainerID, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func (s *Server) rejectApplication(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.RejectApplication(r.Context(), mux.Vars(r)["id"], actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, mutationStatus(res.Queued, http.StatusOK), res)
}

type conflictsResponse struct {
	Conflicts   conflict.Report       `json:"conflicts"`
	Blocking    bool                  `json:"blocking"`
	Resolutions []conflict.Resolution `json:"resolutions"`
}

func (s *Server) checkConflicts(w http.ResponseWriter, r *http.Request) {
	var proposal conflict.Proposal
	if err := decodeBody(r, &proposal); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !proposal.End.After(proposal.Start) {
		s.writeError(w, r, domain.NewError(domain.KindValidation, "end_date must be after start_date"))
		return
	}
	report, err := s.svc.Conflicts(r.Context(), proposal)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if report == nil {
		report = conflict.Report{}
	}
	writeJSON(w, http.StatusOK, conflictsResponse{
		Conflicts:   report,
		Blocking:    report.HasBlocking(),
		Resolutions: report.Resolutions(),
	})
}

type scheduleBody struct {
	Event domain.CalendarEvent `json:"event"`
	Force bool                 `json:"force,omitempty"`
}

func (s *Server) scheduleEvent(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body scheduleBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.ScheduleEvent(r.Context(), actor, body.Event, body.Force)
	if err != nil {
		s.writeErrorWith(w, r, err, res.Value)
		return
	}
	code := http.StatusCreated
	if !res.Value.Created {
		code = http.StatusConflict
	}
	writeJSON(w, mutationStatus(res.Queued, code), res)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.Events(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.CalendarEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

type messageBody struct {
	Body string `json:"body"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body messageBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.SendMessage(r.Context(), actor, mux.Vars(r)["id"], body.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, mutationStatus(res.Queued, http.StatusCreated), res)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msgs, err := s.svc.Messages(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var profile domain.TrainerProfile
	if err := decodeBody(r, &profile); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.UpdateProfile(r.Context(), actor, profile)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, mutationStatus(res.Queued, http.StatusOK), res)
}

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	actions := s.svc.Queue().Actions()
	if actions == nil {
		actions = []domain.OfflineAction{}
	}
	writeJSON(w, http.StatusOK, actions)
}

func (s *Server) drainQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Drain(r.Context()))
}
