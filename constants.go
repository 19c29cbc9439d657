package devproxy

// Version is reported in the default User-Agent of forwarded requests.
const Version = "1.0.0"

// HeaderXForwardedFor is the header name for X-Forwarded-For
const HeaderXForwardedFor = "X-Forwarded-For"

// HeaderXForwardedProto is the header name for X-Forwarded-Proto
const HeaderXForwardedProto = "X-Forwarded-Proto"

// HeaderXForwardedHost is the header name for X-Forwarded-Host
const HeaderXForwardedHost = "X-Forwarded-Host"

// HeaderXForwardedPort is the header name for X-Forwarded-Port
const HeaderXForwardedPort = "X-Forwarded-Port"
