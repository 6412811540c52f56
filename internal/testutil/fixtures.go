package testutil

import (
	"github.com/roach88/timeline/internal/schema"
)

// Entity names of the people fixture.
const (
	PersonEntity  = "Person"
	AddressEntity = "Address"
	ProjectEntity = "Project"
	CountryEntity = "Country"
)

// PeopleRegistry returns a sealed registry exercising every association
// kind:
//
//	Person.address    to_one             -> Address  (person.address_id)
//	Person.projects   to_many_middle     -> Project  (person_project)
//	Person.home       component one      (home_street, home_city)
//	Person.nicknames  component many     (person_nickname)
//	Address.residents to_many_not_owning -> Person   (person.address_id)
//	Address.country   to_one             -> Country  (not audited)
//	Project.members   to_many_middle_not_owning -> Person
//
// Every call builds fresh descriptions, so tests may seal their own copy.
func PeopleRegistry() *schema.Registry {
	return schema.MustRegister(PeopleEntities()...)
}

// PeopleEntities returns unsealed descriptions of the people fixture.
func PeopleEntities() []*schema.Entity {
	person := &schema.Entity{
		Name:  PersonEntity,
		Table: "person",
		ID:    schema.Property{Name: "id", Column: "id", Type: schema.TypeInt},
		Properties: []schema.Property{
			{Name: "name", Column: "name", Type: schema.TypeString},
			{Name: "active", Column: "active", Type: schema.TypeBool},
		},
		Relations: []*schema.RelationDescription{
			{Property: "address", Kind: schema.ToOne, ToEntity: AddressEntity, ReferenceColumn: "address_id"},
			{
				Property: "projects",
				Kind:     schema.ToManyMiddle,
				ToEntity: ProjectEntity,
				Middle: &schema.MiddleDescription{
					Table:    "person_project",
					Owner:    schema.Column{Name: "person_id"},
					Elements: []schema.Column{{Name: "project_code"}},
				},
			},
		},
		Components: []*schema.ComponentDescription{
			{
				Property: "home",
				Kind:     schema.ComponentOne,
				Prefix:   "home_",
				Properties: []schema.Property{
					{Name: "street", Column: "street", Type: schema.TypeString},
					{Name: "city", Column: "city", Type: schema.TypeString},
				},
			},
			{
				Property: "nicknames",
				Kind:     schema.ComponentMany,
				Properties: []schema.Property{
					{Name: "nickname", Column: "nickname", Type: schema.TypeString},
				},
				Middle: &schema.MiddleDescription{
					Table: "person_nickname",
					Owner: schema.Column{Name: "person_id"},
				},
			},
		},
	}

	address := &schema.Entity{
		Name:  AddressEntity,
		Table: "address",
		ID:    schema.Property{Name: "id", Column: "id", Type: schema.TypeInt},
		Properties: []schema.Property{
			{Name: "street", Column: "street", Type: schema.TypeString},
		},
		Relations: []*schema.RelationDescription{
			{Property: "residents", Kind: schema.ToManyNotOwning, ToEntity: PersonEntity, ReferenceColumn: "address_id"},
			{
				Property:        "country",
				Kind:            schema.ToOne,
				ToEntity:        CountryEntity,
				TargetAuditMode: schema.NotAudited,
				ReferenceColumn: "country_code",
			},
		},
	}

	project := &schema.Entity{
		Name:  ProjectEntity,
		Table: "project",
		ID:    schema.Property{Name: "code", Column: "code", Type: schema.TypeString},
		Properties: []schema.Property{
			{Name: "title", Column: "title", Type: schema.TypeString},
		},
		Relations: []*schema.RelationDescription{
			{
				Property: "members",
				Kind:     schema.ToManyMiddleNotOwning,
				ToEntity: PersonEntity,
				Middle: &schema.MiddleDescription{
					Table:    "person_project",
					Owner:    schema.Column{Name: "project_code"},
					Elements: []schema.Column{{Name: "person_id"}},
				},
			},
		},
	}

	country := &schema.Entity{
		Name:       CountryEntity,
		Table:      "country",
		ID:         schema.Property{Name: "code", Column: "code", Type: schema.TypeString},
		Properties: []schema.Property{{Name: "name", Column: "name", Type: schema.TypeString}},
		NotAudited: true,
	}

	return []*schema.Entity{person, address, project, country}
}
