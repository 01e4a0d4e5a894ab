package config

const generalSample = `
# The entity store backend, one of "bbolt", "sqlite" or "memory".
# (default "bbolt")
store_backend = "bbolt"

# The database file of the bbolt and sqlite backends. (default "e2ei.db")
store_path = "e2ei.db"
`

const cacheSample = `
# The lifetime of a parsed leaf certificate in the parse cache. Only parsing
# is cached, validation always runs. (default 10m)
certificate_ttl = "10m"
`

const serviceSample = `
# The UDP address the HTTP/3 RPC server listens on.
# (default "127.0.0.1:3443")
address = "127.0.0.1:3443"

# The TLS certificate and key of the server. If not set, a self-signed
# certificate is generated on startup. (default "")
cert_file = ""
key_file = ""
`

const metricsSample = `
# The address to export prometheus metrics on (host:port or ip:port or :port).
# If not set, metrics are not exported. (default "")
prometheus = ""
`
