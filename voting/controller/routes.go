package controller

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"go.dedis.ch/votex"
	"go.dedis.ch/votex/election"
	"go.dedis.ch/votex/notify"
	"go.dedis.ch/votex/proxy"
	"go.dedis.ch/votex/voting"
	"golang.org/x/xerrors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// electionView is an election with its read models.
type electionView struct {
	election.Election

	Results    []election.Candidate `json:"results"`
	TotalVotes uint64               `json:"totalVotes"`
	Turnout    int                  `json:"turnout"`
}

func newElectionView(e election.Election) electionView {
	return electionView{
		Election:   e,
		Results:    e.Results(),
		TotalVotes: e.TotalVotes(),
		Turnout:    e.Turnout(),
	}
}

// transactionView is the state of the transactions of the session.
type transactionView struct {
	InFlight *voting.Transaction `json:"inFlight"`
	Last     string              `json:"last,omitempty"`
}

// newRoutes returns the read API of the session.
func newRoutes(svc *voting.Service, inbox *notify.Inbox) proxy.Routes {
	return proxy.Routes{
		{Path: "/elections", Handler: listHandler(svc)},
		{Path: "/elections/{id:[0-9]+}", Handler: electionHandler(svc)},
		{Path: "/transaction", Handler: transactionHandler(svc)},
		{Path: "/notifications", Handler: notificationsHandler(inbox)},
	}
}

func listHandler(svc *voting.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		elections := svc.Elections()

		views := make([]electionView, len(elections))
		for i, e := range elections {
			views[i] = newElectionView(e)
		}

		writeJSON(w, views)
	}
}

func electionHandler(svc *voting.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			http.Error(w, "invalid identifier", http.StatusBadRequest)
			return
		}

		e, err := svc.Election(election.ID(id))
		if xerrors.Is(err, election.ErrNotFound) {
			http.Error(w, "election not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, newElectionView(e))
	}
}

func transactionHandler(svc *voting.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view := transactionView{}

		tx, found := svc.InFlight()
		if found {
			view.InFlight = &tx
		}

		last, found := svc.LastTransaction()
		if found {
			view.Last = last.String()
		}

		writeJSON(w, view)
	}
}

func notificationsHandler(inbox *notify.Inbox) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, inbox.Recent())
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		votex.Logger.Err(err).Msg("failed to encode response")
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
