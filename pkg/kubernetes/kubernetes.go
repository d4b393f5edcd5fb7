// Package kubernetes provides a sourcez backend for the data keys of
// Kubernetes ConfigMaps and Secrets. Addresses have the form /<name>/<key>.
package kubernetes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/sourcez"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

// ResourceType specifies the type of Kubernetes resource to serve.
type ResourceType int

const (
	// ConfigMap serves ConfigMap data.
	ConfigMap ResourceType = iota
	// Secret serves Secret data.
	Secret
)

// DefaultRetryDelay is the pause before a broken watch is re-established.
const DefaultRetryDelay = time.Second

var errWatchClosed = errors.New("watch channel closed")

// Backend maps addresses onto resources of one namespace.
type Backend struct {
	client       kubernetes.Interface
	namespace    string
	resourceType ResourceType
	retryDelay   time.Duration
	clock        clockz.Clock
}

// Option configures a Backend.
type Option func(*Backend)

// WithResourceType sets the resource type to serve.
// Defaults to ConfigMap.
func WithResourceType(rt ResourceType) Option {
	return func(b *Backend) {
		b.resourceType = rt
	}
}

// WithRetryDelay sets the pause before a broken watch reconnects.
func WithRetryDelay(d time.Duration) Option {
	return func(b *Backend) {
		b.retryDelay = d
	}
}

// WithClock sets the clock used for reconnect delays.
func WithClock(clock clockz.Clock) Option {
	return func(b *Backend) {
		b.clock = clock
	}
}

// New creates a Backend for namespace.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Backend {
	b := &Backend{
		client:       client,
		namespace:    namespace,
		resourceType: ConfigMap,
		retryDelay:   DefaultRetryDelay,
		clock:        clockz.RealClock,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Resource splits address into a resource name and a data key.
func (b *Backend) Resource(address sourcez.Address) (name, key string, err error) {
	if len(address) != 2 {
		return "", "", &sourcez.RequestError{
			Kind:    sourcez.ErrInvalidAddress,
			Address: address,
			Detail:  "expected /<name>/<key>",
		}
	}
	return address[0], address[1], nil
}

// Watcher returns a Watcher for the data key named by address.
func (b *Backend) Watcher(address sourcez.Address) (*Watcher, error) {
	name, key, err := b.Resource(address)
	if err != nil {
		return nil, err
	}
	return &Watcher{backend: b, name: name, key: key}, nil
}

// Handler returns the backend Handler. Values are raw bytes; a missing
// resource or key reads as nil. Writes create the resource when needed.
func (b *Backend) Handler() sourcez.Handler {
	return sourcez.Methods{
		Observe: func(ctx context.Context, req sourcez.Request, o sourcez.Observer) func() {
			w, err := b.Watcher(req.Address)
			if err != nil {
				o.Error(err)
				return nil
			}
			return sourcez.FromWatcher(ctx, w).Subscribe(o).Unsubscribe
		},
		Calls: map[sourcez.Method]sourcez.CallFunc{
			sourcez.Get: b.get,
			sourcez.Set: b.set,
		},
	}.Handler()
}

func (b *Backend) get(ctx context.Context, req sourcez.Request) (any, error) {
	name, key, err := b.Resource(req.Address)
	if err != nil {
		return nil, err
	}
	value, _, err := b.read(ctx, name, key)
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kubernetes get %s/%s: %w", b.namespace, name, err)
	}
	if value == nil {
		return nil, nil
	}
	return value, nil
}

func (b *Backend) set(ctx context.Context, req sourcez.Request) (any, error) {
	data, err := sourcez.ValueBytes(req)
	if err != nil {
		return nil, err
	}
	name, key, err := b.Resource(req.Address)
	if err != nil {
		return nil, err
	}
	if err := b.write(ctx, name, key, data); err != nil {
		return nil, fmt.Errorf("kubernetes update %s/%s: %w", b.namespace, name, err)
	}
	return nil, nil
}

// read returns the value of key and the resource version it was read at.
func (b *Backend) read(ctx context.Context, name, key string) ([]byte, string, error) {
	if b.resourceType == Secret {
		secret, err := b.client.CoreV1().Secrets(b.namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return nil, "", err
		}
		return secret.Data[key], secret.ResourceVersion, nil
	}

	cm, err := b.client.CoreV1().ConfigMaps(b.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, "", err
	}
	value, ok := cm.Data[key]
	if !ok {
		return nil, cm.ResourceVersion, nil
	}
	return []byte(value), cm.ResourceVersion, nil
}

func (b *Backend) write(ctx context.Context, name, key string, data []byte) error {
	meta := metav1.ObjectMeta{Name: name, Namespace: b.namespace}

	if b.resourceType == Secret {
		secrets := b.client.CoreV1().Secrets(b.namespace)
		secret, err := secrets.Get(ctx, name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			_, err = secrets.Create(ctx, &corev1.Secret{
				ObjectMeta: meta,
				Data:       map[string][]byte{key: data},
			}, metav1.CreateOptions{})
			return err
		}
		if err != nil {
			return err
		}
		secret = secret.DeepCopy()
		if secret.Data == nil {
			secret.Data = make(map[string][]byte)
		}
		secret.Data[key] = data
		_, err = secrets.Update(ctx, secret, metav1.UpdateOptions{})
		return err
	}

	configMaps := b.client.CoreV1().ConfigMaps(b.namespace)
	cm, err := configMaps.Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = configMaps.Create(ctx, &corev1.ConfigMap{
			ObjectMeta: meta,
			Data:       map[string]string{key: string(data)},
		}, metav1.CreateOptions{})
		return err
	}
	if err != nil {
		return err
	}
	cm = cm.DeepCopy()
	if cm.Data == nil {
		cm.Data = make(map[string]string)
	}
	cm.Data[key] = string(data)
	_, err = configMaps.Update(ctx, cm, metav1.UpdateOptions{})
	return err
}

// Watcher watches one data key of a ConfigMap or Secret.
type Watcher struct {
	backend *Backend
	name    string
	key     string
}

// Watch begins watching the resource and returns a channel that emits the
// key's value whenever it changes. The current value is emitted
// immediately when it exists. A broken watch is re-established after the
// retry delay; values equal to the last emitted one are skipped.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)

	go func() {
		defer close(out)

		var last []byte
		emit := func(value []byte) bool {
			if last != nil && bytes.Equal(last, value) {
				return true
			}
			select {
			case out <- value:
				last = value
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			_ = w.watchLoop(ctx, emit)
			if ctx.Err() != nil {
				return
			}
			// Reconnect after a pause
			timer := w.backend.clock.NewTimer(w.backend.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C():
			}
		}
	}()

	return out, nil
}

func (w *Watcher) watchLoop(ctx context.Context, emit func([]byte) bool) error {
	value, resourceVersion, err := w.backend.read(ctx, w.name, w.key)
	switch {
	case apierrors.IsNotFound(err):
		// Watch for creation.
	case err != nil:
		return err
	case value != nil:
		if !emit(value) {
			return ctx.Err()
		}
	}

	opts := metav1.ListOptions{
		FieldSelector:   fmt.Sprintf("metadata.name=%s", w.name),
		ResourceVersion: resourceVersion,
	}

	var watcher watch.Interface
	if w.backend.resourceType == Secret {
		watcher, err = w.backend.client.CoreV1().Secrets(w.backend.namespace).Watch(ctx, opts)
	} else {
		watcher, err = w.backend.client.CoreV1().ConfigMaps(w.backend.namespace).Watch(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("failed to start watch: %w", err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return errWatchClosed
			}
			switch event.Type {
			case watch.Error:
				return apierrors.FromObject(event.Object)
			case watch.Deleted:
				continue
			}
			if value := w.extractValue(event.Object); value != nil {
				if !emit(value) {
					return ctx.Err()
				}
			}
		}
	}
}

func (w *Watcher) extractValue(obj any) []byte {
	if w.backend.resourceType == Secret {
		if secret, ok := obj.(*corev1.Secret); ok && secret.Name == w.name {
			return secret.Data[w.key]
		}
		return nil
	}
	if cm, ok := obj.(*corev1.ConfigMap); ok && cm.Name == w.name {
		if value, ok := cm.Data[w.key]; ok {
			return []byte(value)
		}
	}
	return nil
}
