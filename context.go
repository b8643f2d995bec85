package fleetauth

import "context"

// requestInfo is what the transport knows about the caller. It travels as a
// single value so each With* call copies rather than stacks context layers.
type requestInfo struct {
	clientIP  string
	userAgent string
	requestID string
}

type requestInfoKey struct{}

func withRequestInfo(ctx context.Context, edit func(*requestInfo)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	info := requestInfoFrom(ctx)
	edit(&info)
	return context.WithValue(ctx, requestInfoKey{}, info)
}

func requestInfoFrom(ctx context.Context) requestInfo {
	if ctx == nil {
		return requestInfo{}
	}
	info, _ := ctx.Value(requestInfoKey{}).(requestInfo)
	return info
}

// WithClientIP attaches the caller's IP address to ctx. The Engine records
// it on audit events and, when Lockout.TrackClientIP is set, counts failed
// logins against it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return withRequestInfo(ctx, func(i *requestInfo) { i.clientIP = ip })
}

// WithUserAgent attaches the User-Agent, recorded on session creation.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return withRequestInfo(ctx, func(i *requestInfo) { i.userAgent = userAgent })
}

// WithRequestID attaches a transport request id. Every audit event appended
// under ctx carries it as request_id metadata.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withRequestInfo(ctx, func(i *requestInfo) { i.requestID = id })
}

func clientIPFromContext(ctx context.Context) string  { return requestInfoFrom(ctx).clientIP }
func userAgentFromContext(ctx context.Context) string { return requestInfoFrom(ctx).userAgent }
func requestIDFromContext(ctx context.Context) string { return requestInfoFrom(ctx).requestID }
