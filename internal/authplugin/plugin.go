// Package authplugin implements the authentication plugins the handshake
// driver can negotiate with a server. Plugins are looked up by the name
// the server's greeting advertises; an AuthSwitchRequest is not handled.
package authplugin

import "github.com/mysqlwire/client/internal/mysqlerr"

// Plugin computes an authentication response given the password and the
// server-supplied challenge (the "scramble" / "auth plugin data").
type Plugin interface {
	Name() string
	Respond(password string, challenge []byte) ([]byte, error)
}

var registry = map[string]Plugin{}

func register(p Plugin) {
	registry[p.Name()] = p
}

// Lookup returns the plugin registered under name, or an InvalidArgument
// error if the server named a plugin this driver does not implement.
func Lookup(name string) (Plugin, error) {
	p, ok := registry[name]
	if !ok {
		return nil, mysqlerr.InvalidArgument("unsupported authentication plugin: " + name)
	}
	return p, nil
}

func init() {
	register(nativePassword{})
}
