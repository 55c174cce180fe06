// Package directory maps user ids to the one connection currently
// serving them, for direct (1:1) delivery.
package directory

// Directory is a one-to-one user id <-> connection id table where the most
// recent connection for a user wins.
//
// A Directory is not safe for concurrent use; the event router owns it.
type Directory struct {
	byUser map[string]string
	byConn map[string]string
}

// New creates an empty Directory.
func New() *Directory {
	return &Directory{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

// Register points userID at connID, replacing any previous connection.
// The replaced connection keeps running but no longer resolves.
func (d *Directory) Register(userID, connID string) {
	if prev, ok := d.byUser[userID]; ok && prev != connID {
		delete(d.byConn, prev)
	}
	if prevUser, ok := d.byConn[connID]; ok && prevUser != userID {
		delete(d.byUser, prevUser)
	}
	d.byUser[userID] = connID
	d.byConn[connID] = userID
}

// Resolve returns the connection currently registered for userID.
func (d *Directory) Resolve(userID string) (string, bool) {
	connID, ok := d.byUser[userID]
	return connID, ok
}

// Remove drops connID. The user entry is cleared only while it still
// points at connID, so an older connection closing after a newer one
// registered does not unregister the user.
func (d *Directory) Remove(connID string) {
	userID, ok := d.byConn[connID]
	if !ok {
		return
	}
	delete(d.byConn, connID)
	if d.byUser[userID] == connID {
		delete(d.byUser, userID)
	}
}

// Len returns the number of registered users.
func (d *Directory) Len() int {
	return len(d.byUser)
}
