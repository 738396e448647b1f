package services

// Dictionaries used by the name and location scanners. Keys are lower case.

var firstNames = toSet(
	"aarav", "aditi", "aditya", "ajay", "akash", "akshay", "alok", "amit",
	"amitabh", "anand", "anil", "anita", "anjali", "ankit", "ankita", "anuj",
	"anupam", "arjun", "arun", "arvind", "ashish", "ashok", "deepak", "deepika",
	"dev", "dinesh", "divya", "gaurav", "geeta", "gopal", "harish", "hemant",
	"imran", "isha", "jatin", "jaya", "karan", "kavita", "kiran", "krishna",
	"kunal", "lakshmi", "mahesh", "manish", "manoj", "meena", "mohan",
	"mohit", "mukesh", "naveen", "neha", "nikhil", "nitin", "pankaj", "pooja",
	"prakash", "pradeep", "pramod", "prashant", "priya", "priyanka", "rahul",
	"raj", "rajesh", "rajiv", "rakesh", "ram", "ramesh", "ravi", "rekha",
	"ritu", "rohit", "sachin", "sanjay", "sandeep", "santosh", "sarita",
	"saurabh", "seema", "shalini", "shivam", "shweta", "sneha", "sonia",
	"sudhir", "sumit", "sunil", "sunita", "suresh", "swati", "tarun",
	"umesh", "usha", "varun", "vijay", "vikas", "vikram", "vinod", "vishal",
	"vivek", "yash", "yogesh", "abdul", "mohammed", "salman", "farhan",
	"harpreet", "gurpreet", "manpreet", "simran",
)

var surnames = toSet(
	"agarwal", "agrawal", "ahmed", "ali", "bansal", "banerjee", "bhat",
	"bhatia", "bose", "chatterjee", "chauhan", "chopra", "das", "desai",
	"dubey", "dutta", "gandhi", "ghosh", "gill", "goel", "gupta", "iyer",
	"jain", "joshi", "kapoor", "khan", "khanna", "kulkarni", "kumar", "malhotra",
	"mehta", "menon", "mishra", "mukherjee", "nair", "pandey", "patel",
	"patil", "pillai", "rao", "reddy", "saxena", "sethi", "shah", "sharma",
	"shetty", "shukla", "singh", "sinha", "srivastava", "thakur", "tiwari",
	"trivedi", "varma", "verma", "yadav", "qureshi", "sheikh", "siddiqui",
	"sandhu", "grewal", "naidu", "chaudhary", "choudhary", "rathore",
)

var cities = toSet(
	"agra", "ahmedabad", "ajmer", "allahabad", "amritsar", "aurangabad",
	"bangalore", "bengaluru", "bhopal", "bhubaneswar", "chandigarh", "chennai",
	"coimbatore", "dehradun", "delhi", "new delhi", "dhanbad", "faridabad",
	"ghaziabad", "goa", "gurgaon", "gurugram", "guwahati", "gwalior",
	"howrah", "hyderabad", "indore", "jabalpur", "jaipur", "jalandhar",
	"jammu", "jodhpur", "kanpur", "kochi", "kolkata", "kota", "lucknow",
	"ludhiana", "madurai", "meerut", "mumbai", "navi mumbai", "mysore",
	"nagpur", "nashik", "noida", "patna", "pune", "raipur", "rajkot",
	"ranchi", "shimla", "srinagar", "surat", "thane", "trivandrum",
	"udaipur", "vadodara", "varanasi", "vijayawada", "visakhapatnam",
)

var states = toSet(
	"andhra pradesh", "assam", "bihar", "chhattisgarh", "gujarat", "haryana",
	"himachal pradesh", "jharkhand", "karnataka", "kerala", "madhya pradesh",
	"maharashtra", "odisha", "punjab", "rajasthan", "tamil nadu", "telangana",
	"uttar pradesh", "uttarakhand", "west bengal",
)

// queryStopwords never become part of a name or location
var queryStopwords = toSet(
	"a", "an", "and", "any", "at", "by", "find", "for", "from", "get", "give",
	"has", "having", "in", "is", "me", "mobile", "name", "named", "near",
	"number", "of", "on", "or", "person", "phone", "records", "resident",
	"search", "show", "the", "to", "who", "with", "whose", "details", "info",
	"information", "lives", "living", "based", "email", "mail", "address",
	"account", "contact", "called", "paid", "sent", "owner", "works", "son",
	"daughter", "wife", "husband", "father", "mother", "brother", "sister",
	"all", "about", "related", "linked", "pan", "aadhaar", "vehicle",
)

// locationPrepositions mark the next token as more likely a place than a name
var locationPrepositions = toSet("from", "in", "at", "near", "of", "to")

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func inSet(set map[string]struct{}, w string) bool {
	_, ok := set[w]
	return ok
}

func isNameWord(w string) bool {
	return inSet(firstNames, w) || inSet(surnames, w)
}

func isPlaceWord(w string) bool {
	return inSet(cities, w) || inSet(states, w)
}
