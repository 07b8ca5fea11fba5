package factstore_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/factstore-io/factstore/pkg/factstore"
)

var _ = Describe("Finder", func() {
	It("finds a fact by id", func() {
		f := makeFact("Signup", factstore.NewSubject("User", "u-1"))
		_, err := store.Append(suiteCtx, f)
		Expect(err).NotTo(HaveOccurred())

		found, ok, err := store.FindByID(suiteCtx, f.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(found.Type).To(Equal("Signup"))
	})

	It("reports ExistsByID false for an unknown id", func() {
		exists, err := store.ExistsByID(suiteCtx, factstore.NewFactID())
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeFalse())
	})

	It("finds facts in an inclusive time range", func() {
		subject := factstore.NewSubject("Sensor", "s-1")
		early := factstore.NewFact("Reading", subject, factstore.Timestamp{Sec: 100}, nil, nil, factstore.Payload{})
		boundary := factstore.NewFact("Reading", subject, factstore.Timestamp{Sec: 200}, nil, nil, factstore.Payload{})
		late := factstore.NewFact("Reading", subject, factstore.Timestamp{Sec: 300}, nil, nil, factstore.Payload{})
		_, err := store.AppendFacts(suiteCtx, []factstore.Fact{early, boundary, late})
		Expect(err).NotTo(HaveOccurred())

		facts, err := store.FindInTimeRange(suiteCtx, factstore.Timestamp{Sec: 100}, factstore.Timestamp{Sec: 200})
		Expect(err).NotTo(HaveOccurred())
		Expect(facts).To(HaveLen(2))
	})

	It("finds facts by a tag shared across types", func() {
		tag := factstore.NewTag("campaign", "spring-sale")
		_, err := store.Append(suiteCtx, makeFact("EmailSent", factstore.NewSubject("User", "u-2"), tag))
		Expect(err).NotTo(HaveOccurred())
		_, err = store.Append(suiteCtx, makeFact("EmailOpened", factstore.NewSubject("User", "u-2"), tag))
		Expect(err).NotTo(HaveOccurred())

		facts, err := store.FindByTags(suiteCtx, []factstore.Tag{tag})
		Expect(err).NotTo(HaveOccurred())
		Expect(facts).To(HaveLen(2))
	})

	It("intersects multiple tags within a TagTypeItem", func() {
		subject := factstore.NewSubject("Order", "o-7")
		matching := makeFact("OrderPlaced", subject,
			factstore.NewTag("region", "eu"), factstore.NewTag("channel", "web"))
		partial := makeFact("OrderPlaced", subject, factstore.NewTag("region", "eu"))
		_, err := store.AppendFacts(suiteCtx, []factstore.Fact{matching, partial})
		Expect(err).NotTo(HaveOccurred())

		query := factstore.NewTagQuery(factstore.NewTagTypeItem(
			[]string{"OrderPlaced"},
			[]factstore.Tag{factstore.NewTag("region", "eu"), factstore.NewTag("channel", "web")},
		))
		facts, err := store.FindByTagQuery(suiteCtx, query)
		Expect(err).NotTo(HaveOccurred())
		Expect(facts).To(HaveLen(1))
		Expect(facts[0].ID).To(Equal(matching.ID))
	})
})
