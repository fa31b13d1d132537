package transport

import "fmt"

// Credentials identify the process on the other end of a unix socket.
type Credentials struct {
	PID int32
	UID uint32
	GID uint32
}

// String formats the credentials as "pid=N uid=N gid=N".
func (c *Credentials) String() string {
	return fmt.Sprintf("pid=%d uid=%d gid=%d", c.PID, c.UID, c.GID)
}
