package sandbox

// In-namespace proxy ports. A sandboxed Linux process that unshares its
// network namespace still has a loopback device; these are the fixed ports
// an in-namespace socat bridge listens on, splicing to the bridge sockets
// bound outside the namespace. The self-apply pre-exec step in
// internal/backend starts the in-namespace listeners on these ports.
const (
	InNamespaceHTTPPort  = 3128
	InNamespaceSOCKSPort = 1080
)
