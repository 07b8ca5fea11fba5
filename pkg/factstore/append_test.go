package factstore_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/factstore-io/factstore/pkg/factstore"
)

func makeFact(factType string, subject factstore.Subject, tags ...factstore.Tag) factstore.Fact {
	return factstore.NewFact(factType, subject, factstore.Timestamp{Sec: 1700000000}, tags, nil,
		factstore.Payload{Data: []byte(`{}`), Format: "json"})
}

var _ = Describe("Append", func() {
	It("assigns a monotonically increasing position to each appended fact", func() {
		f1 := makeFact("OrderPlaced", factstore.NewSubject("Order", "o-1"))
		r1, err := store.Append(suiteCtx, f1)
		Expect(err).NotTo(HaveOccurred())
		Expect(r1.Kind).To(Equal(factstore.ResultAppended))

		f2 := makeFact("OrderShipped", factstore.NewSubject("Order", "o-1"))
		r2, err := store.Append(suiteCtx, f2)
		Expect(err).NotTo(HaveOccurred())

		Expect(r1.Position().Before(r2.Position())).To(BeTrue())
	})

	It("keeps every fact in a batch in request order", func() {
		subject := factstore.NewSubject("Order", "o-2")
		facts := []factstore.Fact{
			makeFact("OrderPlaced", subject),
			makeFact("OrderPaid", subject),
			makeFact("OrderShipped", subject),
		}
		result, err := store.AppendFacts(suiteCtx, facts)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Kind).To(Equal(factstore.ResultAppended))

		stored, err := store.FindBySubject(suiteCtx, subject)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(HaveLen(3))
		Expect(stored[0].Type).To(Equal("OrderPlaced"))
		Expect(stored[1].Type).To(Equal("OrderPaid"))
		Expect(stored[2].Type).To(Equal("OrderShipped"))
	})

	It("rejects a request containing duplicate fact ids", func() {
		f := makeFact("OrderPlaced", factstore.NewSubject("Order", "o-3"))
		_, err := store.AppendFacts(suiteCtx, []factstore.Fact{f, f})
		Expect(factstore.IsDuplicateFactIdError(err)).To(BeTrue())
	})

	It("rejects an append whose fact id already exists", func() {
		f := makeFact("OrderPlaced", factstore.NewSubject("Order", "o-4"))
		_, err := store.Append(suiteCtx, f)
		Expect(err).NotTo(HaveOccurred())

		_, err = store.Append(suiteCtx, f)
		Expect(factstore.IsDuplicateFactIdError(err)).To(BeTrue())
	})

	It("replays a retried idempotency key without re-appending", func() {
		subject := factstore.NewSubject("Order", "o-5")
		req := factstore.NewAppendRequest(makeFact("OrderPlaced", subject))

		r1, err := store.AppendRequest(suiteCtx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(r1.Kind).To(Equal(factstore.ResultAppended))

		r2, err := store.AppendRequest(suiteCtx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(r2.Kind).To(Equal(factstore.ResultAlreadyApplied))

		facts, err := store.FindBySubject(suiteCtx, subject)
		Expect(err).NotTo(HaveOccurred())
		Expect(facts).To(HaveLen(1))
	})

	It("enforces an ExpectedLastFact condition", func() {
		subject := factstore.NewSubject("Account", "a-1")
		opened := makeFact("AccountOpened", subject)
		_, err := store.Append(suiteCtx, opened)
		Expect(err).NotTo(HaveOccurred())

		cond := factstore.NewExpectedLastFactCondition(subject, &opened.ID)
		req := factstore.NewAppendRequestWithCondition(cond, makeFact("AccountCredited", subject))
		result, err := store.AppendRequest(suiteCtx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Kind).To(Equal(factstore.ResultAppended))

		staleCond := factstore.NewExpectedLastFactCondition(subject, &opened.ID)
		staleReq := factstore.NewAppendRequestWithCondition(staleCond, makeFact("AccountCredited", subject))
		result, err = store.AppendRequest(suiteCtx, staleReq)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Kind).To(Equal(factstore.ResultAppendConditionViolated))
	})

	It("enforces a TagQueryBased condition", func() {
		subject := factstore.NewSubject("Seat", "12A")
		tag := factstore.NewTag("seat", "12A")
		_, err := store.Append(suiteCtx, makeFact("SeatReserved", subject, tag))
		Expect(err).NotTo(HaveOccurred())

		query := factstore.NewTagQuery(factstore.NewTagTypeItem([]string{"SeatReserved"}, []factstore.Tag{tag}))
		cond := factstore.NewTagQueryBasedCondition(query, nil)
		req := factstore.NewAppendRequestWithCondition(cond, makeFact("SeatReserved", subject, tag))

		result, err := store.AppendRequest(suiteCtx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Kind).To(Equal(factstore.ResultAppendConditionViolated))
	})

	It("rejects a fact with a blank type", func() {
		f := makeFact("", factstore.NewSubject("Order", "o-6"))
		_, err := store.Append(suiteCtx, f)
		Expect(factstore.IsValidationError(err)).To(BeTrue())
	})
})
