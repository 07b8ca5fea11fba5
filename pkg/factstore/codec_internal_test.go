package factstore

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Fact envelope codec", func() {
	It("round-trips every field except Position", func() {
		f := Fact{
			ID:         NewFactID(),
			Type:       "OrderPlaced",
			Subject:    Subject{Type: "Order", ID: "o-9"},
			AppendedAt: Timestamp{Sec: 1700000042, Nanos: 7},
			Metadata:   map[string]string{"b": "2", "a": "1"},
			Tags:       []Tag{{Key: "region", Value: "eu"}, {Key: "channel", Value: "web"}},
			Payload:    Payload{Data: []byte(`{"x":1}`), Format: "json", Schema: "order.v1"},
		}

		decoded, err := decodeFactEnvelope(encodeFactEnvelope(f))
		Expect(err).NotTo(HaveOccurred())

		decoded.Position = f.Position // Position is not part of the envelope.
		Expect(decoded).To(Equal(f))
	})

	It("normalizes metadata map ordering so identical maps encode identically", func() {
		a := Fact{Type: "T", Metadata: map[string]string{"x": "1", "y": "2"}}
		b := Fact{Type: "T", Metadata: map[string]string{"y": "2", "x": "1"}}
		Expect(encodeFactEnvelope(a)).To(Equal(encodeFactEnvelope(b)))
	})

	It("round-trips a fact with no tags and no metadata", func() {
		f := Fact{ID: NewFactID(), Type: "Empty", Payload: Payload{}}
		decoded, err := decodeFactEnvelope(encodeFactEnvelope(f))
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.Tags).To(BeEmpty())
		Expect(decoded.Metadata).To(BeEmpty())
	})
})
