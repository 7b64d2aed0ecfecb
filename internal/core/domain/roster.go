package domain

// Roster is the participant list of the local session. It is only ever
// replaced from an authoritative list; there are no incremental add/remove
// operations so a late join broadcast can never resurrect a departed member.
type Roster struct {
	self Participant
	list []Participant
}

func NewRoster(self Participant) *Roster {
	if self.Name == "" {
		self.Name = DefaultSelfName
	}
	return &Roster{self: self}
}

func (r *Roster) Self() Participant {
	return r.self
}

// Replace adopts ps as the new roster. Duplicate ids keep their first entry,
// missing names are filled from the previous roster, and the local user is
// added when absent. An empty list clears the roster.
func (r *Roster) Replace(ps []Participant) {
	if len(ps) == 0 {
		r.list = nil
		return
	}

	prev := make(map[UserID]string, len(r.list))
	for _, p := range r.list {
		prev[p.ID] = p.Name
	}

	seen := make(map[UserID]bool, len(ps))
	next := make([]Participant, 0, len(ps)+1)
	for _, p := range ps {
		if p.ID == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		next = append(next, Participant{ID: p.ID, Name: r.nameFor(p, prev)})
	}
	if !seen[r.self.ID] {
		next = append([]Participant{r.self}, next...)
	}
	r.list = next
}

// ReplaceIDs adopts a bare id list, resolving names from hints, the previous
// roster, or the defaults.
func (r *Roster) ReplaceIDs(ids []UserID, hints map[UserID]string) {
	ps := make([]Participant, 0, len(ids))
	for _, id := range ids {
		ps = append(ps, Participant{ID: id, Name: hints[id]})
	}
	r.Replace(ps)
}

func (r *Roster) nameFor(p Participant, prev map[UserID]string) string {
	if p.Name != "" {
		return p.Name
	}
	if p.ID == r.self.ID {
		return r.self.Name
	}
	if name := prev[p.ID]; name != "" {
		return name
	}
	return DefaultUserName
}

func (r *Roster) Clear() {
	r.list = nil
}

func (r *Roster) Len() int {
	return len(r.list)
}

func (r *Roster) Has(id UserID) bool {
	for _, p := range r.list {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (r *Roster) Name(id UserID) string {
	for _, p := range r.list {
		if p.ID == id {
			return p.Name
		}
	}
	return ""
}

// Remotes returns every participant id except the local user.
func (r *Roster) Remotes() []UserID {
	out := make([]UserID, 0, len(r.list))
	for _, p := range r.list {
		if p.ID != r.self.ID {
			out = append(out, p.ID)
		}
	}
	return out
}

func (r *Roster) List() []Participant {
	out := make([]Participant, len(r.list))
	copy(out, r.list)
	return out
}
