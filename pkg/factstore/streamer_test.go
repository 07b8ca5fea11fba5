package factstore_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/factstore-io/factstore/pkg/factstore"
)

var _ = Describe("Streamer", func() {
	It("replays every previously appended fact from the beginning", func() {
		subject := factstore.NewSubject("Cart", "c-1")
		_, err := store.AppendFacts(suiteCtx, []factstore.Fact{
			makeFact("CartCreated", subject),
			makeFact("ItemAdded", subject),
		})
		Expect(err).NotTo(HaveOccurred())

		stream, err := store.Stream(suiteCtx, factstore.StreamOptions{StartPosition: factstore.Beginning()})
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()

		var seen []factstore.Fact
		for len(seen) < 2 {
			select {
			case f := <-stream.Facts():
				seen = append(seen, f)
			case <-time.After(5 * time.Second):
				Fail("timed out waiting for streamed facts")
			}
		}
		Expect(seen[0].Type).To(Equal("CartCreated"))
		Expect(seen[1].Type).To(Equal("ItemAdded"))
	})

	It("wakes up and delivers a fact appended after the stream started", func() {
		stream, err := store.Stream(suiteCtx, factstore.StreamOptions{StartPosition: factstore.End()})
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()

		f := makeFact("Heartbeat", factstore.NewSubject("Probe", "p-1"))
		_, err = store.Append(suiteCtx, f)
		Expect(err).NotTo(HaveOccurred())

		select {
		case got := <-stream.Facts():
			Expect(got.ID).To(Equal(f.ID))
		case <-time.After(5 * time.Second):
			Fail("timed out waiting for the new fact")
		}
	})

	It("stops cleanly when Close is called", func() {
		stream, err := store.Stream(suiteCtx, factstore.StreamOptions{StartPosition: factstore.End()})
		Expect(err).NotTo(HaveOccurred())

		Expect(stream.Close()).To(Succeed())
		_, open := <-stream.Facts()
		Expect(open).To(BeFalse())
	})
})
