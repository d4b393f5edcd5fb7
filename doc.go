/*
Package sourcez provides a uniform read, watch and write interface over
hierarchical data sources.

Every resource is named by an address, a sequence of path segments written
as "/users/1/name". A backend is a plain Handler that answers requests for
addresses; sourcez wraps it in a pipeline that normalizes addresses, shares
live subscriptions, fans out over several addresses at once and validates
what the backend returns.

# Basic Usage

Build a Source around a backend and use it:

	src := sourcez.New(sourcez.MustRoutes(map[string]sourcez.Handler{
	    "user":     sourcez.Memory(map[string]any{"name": "ada"}),
	    "settings": file.New("/etc/myapp").Handler(),
	}))

	name, err := src.Get(ctx, "/user/name")
	err = src.Set(ctx, "/user/name", "grace")

	stream, err := src.Observe(ctx, "/user/name")
	sub := stream.Subscribe(sourcez.Observer{
	    Next:  func(v any) { fmt.Println("name:", v) },
	    Error: func(err error) { log.Println(err) },
	})
	defer sub.Unsubscribe()

# Methods

OBSERVE yields a Stream: the current value first, then every change.
GET and SET, and any custom method, yield a single-shot Future. Backends
must honor this contract; EnsureStandard reports violations with
ErrContractViolation.

# Pipeline

Source composes the stages in this order, outermost first:

	AllowMultiple → AllowNesting → Cache → calls → AllowRecursion → EnsureStandard → backend

Each stage is an ordinary Middleware and can be composed by hand with Chain
for custom pipelines.

AllowMultiple expands lists and mappings of addresses:

	v, _ := src.Get(ctx, map[string]string{"u": "/user/name", "t": "/team/name"})
	// map[string]any{"t": ..., "u": ...}

AllowNesting lets a pending Future or Stream stand in for an address.

The Cache shares one backend subscription per address among all observers.
A late subscriber receives the last value at once. When the last subscriber
leaves, or the backend fails, the entry is dropped and the next subscriber
starts over.

AllowRecursion gives backends a way back into the pipeline through
Request.Recurse. Alias and Transcode use it:

	sourcez.MustRoutes(map[string]sourcez.Handler{
	    "kv":   redis.New(client).Handler(),
	    "json": sourcez.Transcode(sourcez.JSONCodec{}),
	    "db":   sourcez.MustAlias("/json/kv/config/db"),
	})

# Call Options

Single-shot calls can be wrapped with pipz reliability patterns:

	src := sourcez.New(backend,
	    sourcez.WithTimeout(2*time.Second),
	    sourcez.WithRetry(3),
	    sourcez.WithCircuitBreaker(5, 30*time.Second),
	).DedupeGets()

OBSERVE requests never pass through call options.

# Bindings

A Binding applies every value of a stream to application code and tracks
whether the last value was accepted:

	b, _ := src.At("/settings/app.json").Bind(ctx, func(ctx context.Context, prev, curr any) error {
	    return app.Reconfigure(curr)
	})
	if err := b.Start(ctx); err != nil {
	    log.Printf("initial settings failed: %v", err)
	}

Validated decodes each value into a struct and checks its validate tags
before the callback runs. A value that fails is rejected and the previous
one stays current:

	type Settings struct {
	    Port int `json:"port" validate:"min=1,max=65535"`
	}

	b, _ := src.At("/settings/app.json").Bind(ctx, sourcez.Validated(sourcez.JSONCodec{},
	    func(ctx context.Context, prev, curr Settings) error {
	        return app.Listen(curr.Port)
	    }))

# Backends

The pkg directory holds backends for files, HTTP resources, Redis, NATS
JetStream key-value buckets, Consul, etcd, ZooKeeper, Kubernetes ConfigMaps
and Secrets, PostgreSQL tables and Firestore documents. Each serves raw
bytes; mount a Transcode route in front of one for structured values:

	src := sourcez.New(sourcez.MustRoutes(map[string]sourcez.Handler{
		"json":  sourcez.Transcode(sourcez.JSONCodec{}),
		"redis": redis.New(client).Handler(),
	}))
	v, _ := src.Get(ctx, "/json/redis/config/app")

# Observability

Lifecycle events are emitted as capitan signals (see signals.go) and can be
counted with a MetricsProvider.
*/
package sourcez
