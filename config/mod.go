// Package config defines the configuration of a session. It is read from a
// YAML file where the durations are written as Go durations, for instance:
//
//	interval: 10s
//	accounts:
//	  - "0x1234567890123456789012345678901234567890"
//	profiles:
//	  vote:
//	    submit: 2s
//	    confirm: 3s
//	elections:
//	  - title: Student Council Election
//	    start: -24h
//	    end: 24h
//	    status: ACTIVE
//	    createdBy: "0x1234567890123456789012345678901234567890"
//	    candidates:
//	      - name: Ravi Raj
//	        party: Progress Party
//
// The times of the elections are relative to the beginning of the session.
package config

import (
	"io/ioutil"
	"time"

	"go.dedis.ch/votex/election"
	"go.dedis.ch/votex/election/lifecycle"
	"go.dedis.ch/votex/voting"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// DefaultCreator is the creator of the default elections.
const DefaultCreator = "0x1234567890123456789012345678901234567890"

const day = 24 * time.Hour

// Candidate is the seed of a candidate.
type Candidate struct {
	Name  string `yaml:"name"`
	Party string `yaml:"party,omitempty"`
	Votes uint64 `yaml:"votes,omitempty"`
}

// Election is the seed of an election.
type Election struct {
	Title       string        `yaml:"title"`
	Description string        `yaml:"description,omitempty"`
	Start       time.Duration `yaml:"start"`
	End         time.Duration `yaml:"end"`
	// Status is empty when the election is pending.
	Status     string      `yaml:"status,omitempty"`
	CreatedBy  string      `yaml:"createdBy"`
	Candidates []Candidate `yaml:"candidates"`
}

// Session is the configuration of a session.
type Session struct {
	// Interval is the period of the lifecycle clock.
	Interval  time.Duration   `yaml:"interval"`
	Profiles  voting.Profiles `yaml:"profiles"`
	Accounts  []string        `yaml:"accounts,omitempty"`
	Elections []Election      `yaml:"elections"`
}

// Default returns the configuration of a session when no file is provided.
// It contains an active and an ended election.
func Default() Session {
	return Session{
		Interval: lifecycle.DefaultInterval,
		Profiles: voting.DefaultProfiles(),
		Elections: []Election{
			{
				Title:       "Student Council Election",
				Description: "Vote for your student council representative",
				Start:       -day,
				End:         day,
				Status:      election.Active.String(),
				CreatedBy:   DefaultCreator,
				Candidates: []Candidate{
					{Name: "Ravi Raj", Party: "Progress Party"},
					{Name: "Soumyadip Giri", Party: "Future Alliance"},
					{Name: "Rahul Kumar", Party: "Student Voice"},
					{Name: "Deepak Raj", Party: "Unity Group"},
					{Name: "Rohit Chal", Party: "Innovation Team"},
				},
			},
			{
				Title:       "Departmental Head Election",
				Description: "Vote for your department head",
				Start:       -2 * day,
				End:         -day,
				Status:      election.Ended.String(),
				CreatedBy:   DefaultCreator,
				Candidates: []Candidate{
					{Name: "Ravi Raj", Party: "Tech Forward", Votes: 24},
					{Name: "Soumyadip Giri", Party: "Innovate Now", Votes: 18},
					{Name: "Rahul Kumar", Party: "Future Tech", Votes: 32},
				},
			},
		},
	}
}

// Load reads the file and returns the session. The missing fields keep their
// default value.
func Load(path string) (Session, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Session{}, xerrors.Errorf("failed to read file: %v", err)
	}

	return Parse(data)
}

// Parse decodes the YAML document and returns the session.
func Parse(data []byte) (Session, error) {
	session := Default()

	err := yaml.UnmarshalStrict(data, &session)
	if err != nil {
		return Session{}, xerrors.Errorf("failed to decode: %v", err)
	}

	err = session.Validate()
	if err != nil {
		return Session{}, xerrors.Errorf("invalid session: %v", err)
	}

	return session, nil
}

// Validate returns an error if the session cannot be used.
func (s Session) Validate() error {
	if s.Interval <= 0 {
		return xerrors.Errorf("interval must be positive: %v", s.Interval)
	}

	for i, e := range s.Elections {
		if e.Status != "" {
			_, err := election.ParseStatus(e.Status)
			if err != nil {
				return xerrors.Errorf("election #%d: %v", i, err)
			}
		}

		if e.CreatedBy == "" {
			return xerrors.Errorf("election #%d: missing creator", i)
		}
	}

	return nil
}

// Seed returns the elections of the session, with the times relative to the
// given instant.
func (s Session) Seed(now time.Time) ([]election.Election, error) {
	elections := make([]election.Election, len(s.Elections))

	for i, e := range s.Elections {
		status := election.Pending

		if e.Status != "" {
			var err error

			status, err = election.ParseStatus(e.Status)
			if err != nil {
				return nil, xerrors.Errorf("election #%d: %v", i, err)
			}
		}

		candidates := make([]election.Candidate, len(e.Candidates))
		for j, c := range e.Candidates {
			candidates[j] = election.Candidate{
				ID:    election.CandidateID(j + 1),
				Name:  c.Name,
				Party: c.Party,
				Votes: c.Votes,
			}
		}

		elections[i] = election.Election{
			Title:       e.Title,
			Description: e.Description,
			StartTime:   now.Add(e.Start),
			EndTime:     now.Add(e.End),
			Status:      status,
			Candidates:  candidates,
			Voters:      []election.Voter{},
			CreatedBy:   election.Address(e.CreatedBy),
		}
	}

	return elections, nil
}
