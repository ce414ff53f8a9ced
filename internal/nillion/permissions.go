package nillion

import "slices"

// PublicIdentity grants access to any requester when added to a permission list.
const PublicIdentity = "public"

// Permissions lists which identities may use a stored secret.
type Permissions struct {
	Owner    string              `json:"owner"`
	Retrieve []string            `json:"retrieve"`
	Update   []string            `json:"update"`
	Delete   []string            `json:"delete"`
	Compute  map[string][]string `json:"compute"`
}

// DefaultPermissions grants the owner every capability and nobody else anything.
func DefaultPermissions(owner string) *Permissions {
	return &Permissions{
		Owner:    owner,
		Retrieve: []string{owner},
		Update:   []string{owner},
		Delete:   []string{owner},
		Compute:  map[string][]string{},
	}
}

func (p *Permissions) AddRetrieve(ids ...string) {
	p.Retrieve = appendUnique(p.Retrieve, ids...)
}

func (p *Permissions) AddUpdate(ids ...string) {
	p.Update = appendUnique(p.Update, ids...)
}

func (p *Permissions) AddDelete(ids ...string) {
	p.Delete = appendUnique(p.Delete, ids...)
}

// AddCompute grants each identity the listed program ids.
func (p *Permissions) AddCompute(grants map[string][]string) {
	if p.Compute == nil {
		p.Compute = map[string][]string{}
	}

	for id, programs := range grants {
		p.Compute[id] = appendUnique(p.Compute[id], programs...)
	}
}

func (p *Permissions) CanRetrieve(id string) bool {
	return allowed(p.Owner, p.Retrieve, id)
}

func (p *Permissions) CanUpdate(id string) bool {
	return allowed(p.Owner, p.Update, id)
}

func (p *Permissions) CanDelete(id string) bool {
	return allowed(p.Owner, p.Delete, id)
}

func allowed(owner string, list []string, id string) bool {
	if id == owner {
		return true
	}

	return slices.Contains(list, id) || slices.Contains(list, PublicIdentity)
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		if id == "" || slices.Contains(dst, id) {
			continue
		}

		dst = append(dst, id)
	}

	return dst
}
