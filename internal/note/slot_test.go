package note

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltSlot", func() {
	var (
		dbPath string
		slot   *BoltSlot
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		slot, err = NewBoltSlot(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if slot != nil {
			slot.Close()
		}
	})

	Describe("Get", func() {
		When("the key was never written", func() {
			It("should report it missing", func() {
				data, ok, err := slot.Get(StorageKey)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())
				Expect(data).To(BeNil())
			})
		})

		When("the key was written", func() {
			BeforeEach(func() {
				Expect(slot.Set(StorageKey, []byte(`{"version":1,"notes":[]}`))).To(Succeed())
			})

			It("should return the value", func() {
				data, ok, err := slot.Get(StorageKey)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
				Expect(string(data)).To(Equal(`{"version":1,"notes":[]}`))
			})
		})
	})

	Describe("Set", func() {
		It("should replace the previous value", func() {
			Expect(slot.Set(StorageKey, []byte("first"))).To(Succeed())
			Expect(slot.Set(StorageKey, []byte("second"))).To(Succeed())

			data, _, err := slot.Get(StorageKey)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("second"))
		})

		It("should survive reopening the database", func() {
			Expect(slot.Set(StorageKey, []byte("kept"))).To(Succeed())
			Expect(slot.Close()).To(Succeed())

			var err error
			slot, err = NewBoltSlot(dbPath)
			Expect(err).NotTo(HaveOccurred())

			data, ok, err := slot.Get(StorageKey)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(string(data)).To(Equal("kept"))
		})
	})

	It("should back a Store across restarts", func() {
		store := NewStore(slot, nil)
		Expect(store.Insert(Note{ID: "1", Supplier: "Acme", Quantity: "3"})).To(Succeed())

		reloaded := NewStore(slot, nil)
		Expect(reloaded.Load()).To(Equal([]Note{{ID: "1", Supplier: "Acme", Quantity: "3"}}))
	})
})
