package notify

import "github.com/md-rashed-zaman/freelance-notify/libs/changes"

// Party is a user referenced by a payload. Any field may be empty.
type Party struct {
	ID       string
	Username string
	Email    string
}

func (p Party) Known() bool {
	return p.ID != "" || p.Username != "" || p.Email != ""
}

// Fields is what the templates and strategies read from an envelope. Absent values are "".
type Fields struct {
	EntityID   string
	Title      string
	TaskID     string
	User       Party // user topics: the entity itself
	Freelancer Party
	Customer   Party
}

func Extract(p changes.Payload) Fields {
	f := Fields{
		EntityID:   str(p, "id"),
		Title:      str(p, "title"),
		TaskID:     str(p, "taskId"),
		User:       party(p, ""),
		Freelancer: party(p, "freelancer"),
		Customer:   party(p, "customer"),
	}
	// Proposals reference the freelancer by id only.
	if f.Freelancer.ID == "" {
		f.Freelancer.ID = str(p, "freelancerId")
	}
	return f
}

func party(p changes.Payload, prefix string) Party {
	if prefix != "" {
		prefix += "."
	}
	return Party{
		ID:       str(p, prefix+"id"),
		Username: str(p, prefix+"username"),
		Email:    str(p, prefix+"email"),
	}
}

func str(p changes.Payload, path string) string {
	v, _ := p.String(path)
	return v
}
