package policy

// Allow returns a statement allowing the actions on the resources.
func Allow(actions []Action, resources ...string) Statement {
	return Statement{
		Actions:   actions,
		Resources: resources,
	}
}

// GrantRead allows reading and listing the objects of the bucket.
func GrantRead(bucket string) Statement {
	return Allow([]Action{GetObject, ListBucket}, Bucket(bucket), Object(bucket, "*"))
}

// GrantPut allows putting objects in the bucket.
func GrantPut(bucket string) Statement {
	return Allow([]Action{PutObject}, Object(bucket, "*"))
}

// GrantWrite allows putting and deleting objects in the bucket.
func GrantWrite(bucket string) Statement {
	return Allow([]Action{PutObject, DeleteObject}, Object(bucket, "*"))
}

// GrantWriteData allows writing items in the table.
func GrantWriteData(table string) Statement {
	return Allow([]Action{PutItem, DeleteItem}, Table(table))
}

// GrantReadWriteData allows reading and writing items in the table.
func GrantReadWriteData(table string) Statement {
	return Allow([]Action{GetItem, Query, PutItem, DeleteItem}, Table(table))
}

// GrantOwnerPrefix allows get/put of the objects stored under prefix/${sub}/ of the buckets
// and listing the buckets restricted to the same prefix.
func GrantOwnerPrefix(prefix string, buckets ...string) []Statement {
	objects := Statement{Actions: []Action{GetObject, PutObject}}
	list := Statement{
		Actions:  []Action{ListBucket},
		Prefixes: []string{prefix + SubjectVariable + "/*"},
	}

	for _, bucket := range buckets {
		objects.Resources = append(objects.Resources,
			Object(bucket, prefix+SubjectVariable+"/*"),
			Object(bucket, prefix+SubjectVariable),
		)
		list.Resources = append(list.Resources, Bucket(bucket))
	}

	return []Statement{objects, list}
}
