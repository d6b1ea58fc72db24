package model

// Cluster captures the durable record of a registered storage node.
// Secret is the shared symmetric key; API reads serve ClusterView instead,
// so the secret only ever leaves the master once, at creation.
type Cluster struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Secret    string `json:"secret"`
	Bandwidth int    `json:"bandwidth"` // declared upstream capacity, Mbps
	Trust     int    `json:"trust"`
	Banned    bool   `json:"banned"`
	BanReason string `json:"banReason,omitempty"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Version   string `json:"version,omitempty"`
	Runtime   string `json:"runtime,omitempty"`
}

// ClusterView is the cluster record as exposed over the management API,
// with the secret stripped.
type ClusterView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Bandwidth int    `json:"bandwidth"`
	Trust     int    `json:"trust"`
	Banned    bool   `json:"banned"`
	BanReason string `json:"banReason,omitempty"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Version   string `json:"version,omitempty"`
	Runtime   string `json:"runtime,omitempty"`
}

// View returns the redacted projection of the cluster.
func (c Cluster) View() ClusterView {
	return ClusterView{
		ID:        c.ID,
		Name:      c.Name,
		Bandwidth: c.Bandwidth,
		Trust:     c.Trust,
		Banned:    c.Banned,
		BanReason: c.BanReason,
		Host:      c.Host,
		Port:      c.Port,
		Version:   c.Version,
		Runtime:   c.Runtime,
	}
}
