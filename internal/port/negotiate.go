package port

import (
	"fmt"
	"reflect"

	"github.com/ehrlich-b/go-mediagraph/internal/proto"
)

// Negotiate intersects out's and in's format offers and fixates the
// first mutually acceptable one on both ports (§4.2 steps 1-2), mirrors
// the teacher's two-phase control sequence (enumerate capabilities, then
// commit a concrete param) from backend.go's CreateAndServe
// (AddDevice -> SetParams), generalized from a single fixed param to a
// search over two candidate lists.
func Negotiate(out, in *Port) (proto.Pod, error) {
	out.mu.Lock()
	outOffers := append([]proto.Pod(nil), out.formatOffers...)
	out.mu.Unlock()

	in.mu.Lock()
	inOffers := append([]proto.Pod(nil), in.formatOffers...)
	in.mu.Unlock()

	for _, a := range outOffers {
		for _, b := range inOffers {
			if formatsCompatible(a, b) {
				if err := out.SetParam(proto.ParamFormat, a); err != nil {
					return proto.Pod{}, err
				}
				if err := in.SetParam(proto.ParamFormat, a); err != nil {
					return proto.Pod{}, err
				}
				return a, nil
			}
		}
	}
	return proto.Pod{}, fmt.Errorf("port: negotiate: no common format between port %d and port %d", out.ID, in.ID)
}

// formatsCompatible reports whether two ParamFormat object pods describe
// the same media type: same object id and every field the more
// restrictive pod names matches the other's value. A Choice field on
// either side is treated as "accepts anything the other side offers for
// this field".
func formatsCompatible(a, b proto.Pod) bool {
	if a.Type != proto.PodObject || b.Type != proto.PodObject || a.ObjectID != b.ObjectID {
		return false
	}
	for name, av := range a.Fields {
		bv, ok := b.Fields[name]
		if !ok {
			continue
		}
		if av.Type == proto.PodChoice || bv.Type == proto.PodChoice {
			continue
		}
		if !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	return true
}
