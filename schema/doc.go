// Package schema provides the metadata model of the save engine.
//
// Entity types are declared with builders and resolved together by Build:
//
//	reg, err := schema.Build(
//	    schema.NewType("BookStore",
//	        schema.ID("id", schema.KindUUID),
//	        schema.Field("name", schema.KindString),
//	        schema.Field("version", schema.KindInt).Version(),
//	        schema.OneToMany("books", "Book").MappedBy("store"),
//	    ).Key("name"),
//	    schema.NewType("Book",
//	        schema.ID("id", schema.KindUUID),
//	        schema.Field("name", schema.KindString),
//	        schema.Field("edition", schema.KindInt),
//	        schema.ManyToOne("store", "BookStore").Nullable().OnDissociate(schema.DissociateSetNull),
//	        schema.ManyToMany("authors", "Author"),
//	    ).Key("name", "edition"),
//	    schema.NewType("Author",
//	        schema.ID("id", schema.KindUUID),
//	        schema.Field("firstName", schema.KindString),
//	        schema.ManyToMany("books", "Book").MappedBy("authors"),
//	    ),
//	)
//
// # Naming
//
// Tables and columns default to the upper snake case of the Go style name
// (BookStore becomes BOOK_STORE). Foreign key columns get an _ID suffix and
// middle tables are named OWNER_TARGET_MAPPING with OWNER_ID and TARGET_ID
// columns.
//
// # Associations
//
//   - ManyToOne and OneToOne without MappedBy are stored as a foreign key
//     column of the owner table.
//   - OneToMany is always the inverse side of a foreign key.
//   - ManyToMany without MappedBy owns a middle table.
//
// # Keys
//
// Key groups declare alternate unique constraints. The KeyMatcher of a type
// finds the group identifying a draft whose id is unknown and lists the key
// properties a draft is missing.
//
// # Validation
//
// Build rejects inconsistent declarations such as a missing id, an empty
// key group or a mapped-by property that does not exist. Errors are
// reported together as a *ValidationResult.
package schema
